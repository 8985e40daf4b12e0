package render

import (
	"fmt"
	"io/fs"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Source reads raw template text by name.
type Source interface {
	Read(name string) ([]byte, error)
}

// DirSource reads templates from a directory of a billy filesystem.
type DirSource struct {
	FS  billy.Filesystem
	Dir string
}

func (s DirSource) Read(name string) ([]byte, error) {
	if strings.Contains(name, "..") {
		return nil, fmt.Errorf("template %q: %w", name, fs.ErrInvalid)
	}
	return util.ReadFile(s.FS, s.FS.Join(s.Dir, name))
}

// MapSource serves templates from memory, keyed by name.
type MapSource map[string]string

func (m MapSource) Read(name string) ([]byte, error) {
	src, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", name, fs.ErrNotExist)
	}
	return []byte(src), nil
}
