// Package preview exports a published site over NFSv3 so it can be
// mounted and browsed locally.
package preview

import (
	"bytes"
	"errors"
	"os"
	"path"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
)

// SiteFile is the virtual file at the export root describing the site
// configuration the output was produced with.
const SiteFile = "_site.json"

var errReadOnly = errors.New("read-only filesystem")

// ReadOnlyFS exposes a filesystem without any mutating operation. When
// site is non-empty it is served as SiteFile at the root.
type ReadOnlyFS struct {
	billy.Filesystem
	site    []byte
	modTime time.Time
}

func NewReadOnlyFS(fs billy.Filesystem, site []byte) *ReadOnlyFS {
	return &ReadOnlyFS{Filesystem: fs, site: site, modTime: time.Now()}
}

func (fs *ReadOnlyFS) isSiteFile(name string) bool {
	return len(fs.site) > 0 && cleanPath(name) == "/"+SiteFile
}

func (fs *ReadOnlyFS) Create(string) (billy.File, error) { return nil, errReadOnly }

func (fs *ReadOnlyFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *ReadOnlyFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, errReadOnly
	}
	if fs.isSiteFile(filename) {
		return &siteFile{Reader: bytes.NewReader(fs.site)}, nil
	}
	f, err := fs.Filesystem.OpenFile(filename, flag, perm)
	if err != nil {
		return nil, err
	}
	return readOnlyFile{f}, nil
}

func (fs *ReadOnlyFS) Stat(filename string) (os.FileInfo, error) {
	if fs.isSiteFile(filename) {
		return fs.siteInfo(), nil
	}
	return fs.Filesystem.Stat(filename)
}

func (fs *ReadOnlyFS) Lstat(filename string) (os.FileInfo, error) {
	if fs.isSiteFile(filename) {
		return fs.siteInfo(), nil
	}
	return fs.Filesystem.Lstat(filename)
}

func (fs *ReadOnlyFS) ReadDir(dir string) ([]os.FileInfo, error) {
	infos, err := fs.Filesystem.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	if len(fs.site) > 0 && cleanPath(dir) == "/" {
		infos = append(infos, fs.siteInfo())
	}
	return infos, nil
}

func (fs *ReadOnlyFS) Rename(string, string) error                 { return errReadOnly }
func (fs *ReadOnlyFS) Remove(string) error                         { return errReadOnly }
func (fs *ReadOnlyFS) MkdirAll(string, os.FileMode) error          { return errReadOnly }
func (fs *ReadOnlyFS) Symlink(string, string) error                { return errReadOnly }
func (fs *ReadOnlyFS) TempFile(string, string) (billy.File, error) { return nil, errReadOnly }

func (fs *ReadOnlyFS) Chroot(p string) (billy.Filesystem, error) {
	return chroot.New(fs, p), nil
}

func (fs *ReadOnlyFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

func (fs *ReadOnlyFS) siteInfo() os.FileInfo {
	return fileInfo{name: SiteFile, size: int64(len(fs.site)), mode: 0o444, modTime: fs.modTime}
}

func cleanPath(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

type readOnlyFile struct{ billy.File }

func (readOnlyFile) Write([]byte) (int, error) { return 0, errReadOnly }
func (readOnlyFile) Truncate(int64) error      { return errReadOnly }

type siteFile struct{ *bytes.Reader }

func (f *siteFile) Name() string              { return SiteFile }
func (f *siteFile) Write([]byte) (int, error) { return 0, errReadOnly }
func (f *siteFile) Truncate(int64) error      { return errReadOnly }
func (f *siteFile) Lock() error               { return nil }
func (f *siteFile) Unlock() error             { return nil }
func (f *siteFile) Close() error              { return nil }

type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi fileInfo) Sys() any           { return nil }
