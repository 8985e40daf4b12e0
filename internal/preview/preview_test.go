package preview

import (
	"io"
	"net"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *ReadOnlyFS {
	t.Helper()
	out := memfs.New()
	require.NoError(t, util.WriteFile(out, "data/id/dataset/sales.nq",
		[]byte("<https://example.org/repo/id/dataset/sales> <http://purl.org/dc/terms/title> \"Sales\" .\n"), 0o644))
	require.NoError(t, util.WriteFile(out, "index.html", []byte("<h1>repo</h1>"), 0o644))
	return NewReadOnlyFS(out, []byte(`{"root":"https://example.org/repo/"}`))
}

func TestReadThrough(t *testing.T) {
	fs := newTestFS(t)

	data, err := util.ReadFile(fs, "/index.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>repo</h1>", string(data))

	info, err := fs.Stat("data/id/dataset")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSiteFile(t *testing.T) {
	fs := newTestFS(t)

	info, err := fs.Stat("/" + SiteFile)
	require.NoError(t, err)
	assert.Equal(t, SiteFile, info.Name())
	assert.Equal(t, int64(len(`{"root":"https://example.org/repo/"}`)), info.Size())

	f, err := fs.Open(SiteFile)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	_, err = f.Seek(2, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, `root":"https://example.org/repo/"}`, string(rest))

	infos, err := fs.ReadDir("/")
	require.NoError(t, err)
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	assert.ElementsMatch(t, []string{"data", "index.html", SiteFile}, names)

	sub, err := fs.ReadDir("/data")
	require.NoError(t, err)
	assert.Len(t, sub, 1, "site file only appears at the root")
}

func TestNoSiteFile(t *testing.T) {
	fs := NewReadOnlyFS(memfs.New(), nil)
	_, err := fs.Stat(SiteFile)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadOnly(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.Create("new.html")
	assert.Equal(t, errReadOnly, err)
	_, err = fs.OpenFile("index.html", os.O_RDWR, 0)
	assert.Equal(t, errReadOnly, err)
	assert.Equal(t, errReadOnly, fs.MkdirAll("/newdir", 0o755))
	assert.Equal(t, errReadOnly, fs.Remove("index.html"))
	assert.Equal(t, errReadOnly, fs.Rename("data", "renamed"))
	assert.Equal(t, errReadOnly, fs.Symlink("index.html", "link"))

	f, err := fs.Open("index.html")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	_, err = f.Write([]byte("x"))
	assert.Equal(t, errReadOnly, err)
	assert.Equal(t, errReadOnly, f.Truncate(0))
}

func TestCapabilities(t *testing.T) {
	caps := newTestFS(t).Capabilities()
	assert.NotZero(t, caps&2) // ReadCapability
	assert.NotZero(t, caps&8) // SeekCapability
	assert.Zero(t, caps&1)    // WriteCapability
}

func TestServerStarts(t *testing.T) {
	srv, err := NewServer(newTestFS(t), "127.0.0.1:0", nil)
	require.NoError(t, err)

	assert.Positive(t, srv.Port())
	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	_ = conn.Close()

	require.NoError(t, srv.Close())
	<-srv.Done()
}

func TestMountCommand(t *testing.T) {
	args, err := mountCommand("linux", 2049, "/mnt/site")
	require.NoError(t, err)
	assert.Equal(t, []string{"sudo", "mount", "-t", "nfs", "-o",
		"port=2049,mountport=2049,vers=3,tcp,local_lock=all,nolock,ro", "localhost:/", "/mnt/site"}, args)

	args, err = mountCommand("darwin", 2049, "/Volumes/site")
	require.NoError(t, err)
	assert.Contains(t, args[5], "rdonly")

	_, err = mountCommand("plan9", 2049, "/n/site")
	assert.ErrorContains(t, err, "unsupported OS")
}

func TestUnmountCommands(t *testing.T) {
	assert.Equal(t, [][]string{{"sudo", "umount", "/mnt/site"}}, unmountCommands("linux", "/mnt/site"))
	cmds := unmountCommands("darwin", "/Volumes/site")
	require.Len(t, cmds, 2)
	assert.Equal(t, "diskutil", cmds[0][0])
}
