package preview

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"runtime"

	billy "github.com/go-git/go-billy/v5"
	"github.com/hashicorp/go-multierror"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"
)

// DefaultHandleCache is the number of file handles the NFS handler keeps.
const DefaultHandleCache = 4096

// Server serves a filesystem over NFSv3 until closed.
type Server struct {
	listener net.Listener
	port     int
	done     chan struct{}
	err      error
}

// NewServer starts serving fs on addr. An addr with port 0 picks an
// ephemeral port.
func NewServer(fs billy.Filesystem, addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nfs listen: %w", err)
	}

	handler := nfshelper.NewNullAuthHandler(fs)
	cached := nfshelper.NewCachingHandler(handler, DefaultHandleCache)

	s := &Server{
		listener: listener,
		port:     listener.Addr().(*net.TCPAddr).Port,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := nfs.Serve(listener, cached); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Error("nfs server stopped", "error", err)
			s.err = err
		}
	}()
	logger.Info("preview server listening", "addr", listener.Addr().String())
	return s, nil
}

func (s *Server) Port() int { return s.port }

func (s *Server) Addr() string { return s.listener.Addr().String() }

// Done is closed once the serve loop has returned.
func (s *Server) Done() <-chan struct{} { return s.done }

// Err reports why the serve loop stopped; it is only meaningful after Done.
func (s *Server) Err() error { return s.err }

func (s *Server) Close() error {
	return s.listener.Close()
}

// mountCommand builds the read-only NFSv3 mount of the export on port for
// the given OS. Locking stays local since the server has no lock manager.
func mountCommand(goos string, port int, mountpoint string) ([]string, error) {
	common := fmt.Sprintf("port=%d,mountport=%d,vers=3,tcp", port, port)
	var extra string
	switch goos {
	case "darwin":
		extra = "locallocks,noresvport,rdonly"
	case "linux":
		extra = "local_lock=all,nolock,ro"
	default:
		return nil, fmt.Errorf("mount: unsupported OS %s", goos)
	}
	return []string{"sudo", "mount", "-t", "nfs", "-o", common + "," + extra, "localhost:/", mountpoint}, nil
}

// unmountCommands lists the commands to try in order until one succeeds.
func unmountCommands(goos, mountpoint string) [][]string {
	cmds := [][]string{{"sudo", "umount", mountpoint}}
	if goos == "darwin" {
		cmds = append([][]string{{"diskutil", "unmount", mountpoint}}, cmds...)
	}
	return cmds
}

// Mount attaches the preview export at mountpoint. The system mount
// command needs root, so it runs through sudo.
func Mount(port int, mountpoint string) error {
	args, err := mountCommand(runtime.GOOS, port, mountpoint)
	if err != nil {
		return err
	}
	if out, err := exec.Command(args[0], args[1:]...).CombinedOutput(); err != nil {
		return fmt.Errorf("mount %s: %w: %s", mountpoint, err, out)
	}
	return nil
}

func Unmount(mountpoint string) error {
	var errs error
	for _, args := range unmountCommands(runtime.GOOS, mountpoint) {
		out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
		if err == nil {
			return nil
		}
		errs = multierror.Append(errs, fmt.Errorf("%s: %w: %s", args[0], err, out))
	}
	return fmt.Errorf("unmount %s: %w", mountpoint, errs)
}
