package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/agentic-research/graphsite/api"
)

// ProjectConfigFiles are searched for, in this order, in the starting
// directory and each of its parents.
var ProjectConfigFiles = []string{"graphsite.hcl", "graphsite.json", "graphsite.yaml", "graphsite.yml"}

// Loader handles configuration loading with layered precedence:
//  1. DefaultConfig
//  2. the project file (explicit path, or found by walking up from Dir)
//  3. overrides supplied by the caller (command-line flags)
type Loader struct {
	// Dir is where the project file search starts. Empty means the
	// working directory.
	Dir    string
	logger *slog.Logger
}

func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load returns the validated configuration. path may be empty to search
// for a project file.
func (l *Loader) Load(path string, overrides *api.Site) (*api.Site, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = l.FindProjectConfig()
	}
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("loaded project config", slog.String("path", path))
		Merge(cfg, fileCfg)
	} else {
		l.logger.Debug("no project config found")
	}

	Merge(cfg, overrides)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FindProjectConfig walks up from Dir looking for a project file and
// returns "" when none exists.
func (l *Loader) FindProjectConfig() string {
	dir := l.Dir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = cwd
	}

	for {
		for _, name := range ProjectConfigFiles {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
