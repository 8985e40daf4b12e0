package main

import "github.com/agentic-research/graphsite/cmd"

func main() {
	cmd.Execute()
}
