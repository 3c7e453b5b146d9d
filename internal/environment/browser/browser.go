// Package browser runs web content on the display: a local static server
// plus a kiosk Chrome instance pointed at it.
package browser

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/footron/footron/internal/log"
	"github.com/footron/footron/internal/netutil"
	"github.com/footron/footron/internal/procgroup"
)

// Config describes one browser-hosted experience run.
type Config struct {
	ExperienceID string
	// Handler serves the experience's content on the reserved port.
	Handler http.Handler
	// Path is the request path the browser opens, "/" when empty.
	Path string
	// Query is appended to the opened URL alongside the messaging url.
	Query url.Values

	// MessagingBaseURL is the messaging endpoint base; the on-display page is
	// the application side, so its ftMsgUrl points at the out endpoint.
	MessagingBaseURL string

	// ProfileBase is the pristine Chrome profile cloned per run so kiosk
	// sessions never inherit each other's state.
	ProfileBase string
	ProfileDir  string

	Display string
	Ports   *netutil.PortManager
}

// Runner serves the content and supervises the kiosk browser process.
type Runner struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	port     int
	listener net.Listener
	server   *http.Server
	child    *procgroup.Child
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: log.WithExperience("browser", cfg.ExperienceID),
	}
}

// Start reserves a port, serves the handler on it, and launches the kiosk
// browser pointed at the served URL.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	port, err := r.cfg.Ports.Reserve()
	if err != nil {
		return fmt.Errorf("reserve browser port: %w", err)
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		r.cfg.Ports.Release(port)
		return fmt.Errorf("listen on reserved port: %w", err)
	}

	router := chi.NewRouter()
	router.Handle("/*", r.cfg.Handler)
	server := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			r.logger.Warn().Err(err).Str("event", "browser.serve_failed").Msg("experience content server exited")
		}
	}()

	if err := r.cloneProfile(); err != nil {
		_ = server.Close()
		r.cfg.Ports.Release(port)
		return err
	}

	child, err := r.launchBrowser(port)
	if err != nil {
		_ = server.Close()
		r.cfg.Ports.Release(port)
		return err
	}

	r.port = port
	r.listener = listener
	r.server = server
	r.child = child
	r.logger.Debug().
		Str("event", "browser.started").
		Int("port", port).
		Int("pid", child.Pid()).
		Msg("kiosk browser started")
	return nil
}

// Stop kills the browser and releases the content server and its port.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if r.child != nil {
		if err := r.child.Stop(ctx); err != nil {
			firstErr = err
		}
		r.child = nil
	}
	if r.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := r.server.Shutdown(shutdownCtx); err != nil {
			_ = r.server.Close()
		}
		cancel()
		r.server = nil
		r.listener = nil
	}
	if r.port != 0 {
		r.cfg.Ports.Release(r.port)
		r.port = 0
	}
	return firstErr
}

// Alive reports whether the browser process is still up.
func (r *Runner) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.child != nil && r.child.Alive()
}

func (r *Runner) cloneProfile() error {
	if err := os.RemoveAll(r.cfg.ProfileDir); err != nil {
		return fmt.Errorf("clear browser profile: %w", err)
	}
	if err := os.MkdirAll(r.cfg.ProfileDir, 0o755); err != nil {
		return err
	}
	if r.cfg.ProfileBase == "" {
		return nil
	}
	if _, err := os.Stat(r.cfg.ProfileBase); os.IsNotExist(err) {
		return nil
	}
	if err := copyFS(r.cfg.ProfileDir, os.DirFS(r.cfg.ProfileBase)); err != nil {
		return fmt.Errorf("clone browser profile: %w", err)
	}
	return nil
}

// copyFS matches the behavior of os.CopyFS, which needs Go 1.23; the build
// toolchain here is older.
func copyFS(dir string, fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !filepath.IsLocal(filepath.FromSlash(path)) {
			return &os.PathError{Op: "CopyFS", Path: path, Err: os.ErrInvalid}
		}
		newPath := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(newPath, 0o777)
		}
		if !d.Type().IsRegular() {
			return &os.PathError{Op: "CopyFS", Path: path, Err: os.ErrInvalid}
		}
		r, err := fsys.Open(path)
		if err != nil {
			return err
		}
		defer r.Close()
		info, err := r.Stat()
		if err != nil {
			return err
		}
		w, err := os.OpenFile(newPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o666|info.Mode()&0o777)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, r); err != nil {
			w.Close()
			return &os.PathError{Op: "Copy", Path: newPath, Err: err}
		}
		return w.Close()
	})
}

func (r *Runner) launchBrowser(port int) (*procgroup.Child, error) {
	target := r.pageURL(port)
	cmd := exec.Command(
		"google-chrome",
		"--kiosk",
		"--user-data-dir="+r.cfg.ProfileDir,
		"--no-first-run",
		"--noerrdialogs",
		"--disable-infobars",
		"--disable-session-crashed-bubble",
		"--autoplay-policy=no-user-gesture-required",
		"--check-for-update-interval=31536000",
		target,
	)
	cmd.Env = append(os.Environ(), "DISPLAY="+r.cfg.Display)
	return procgroup.Start(cmd)
}

func (r *Runner) pageURL(port int) string {
	path := r.cfg.Path
	if path == "" {
		path = "/"
	}
	query := url.Values{}
	for key, values := range r.cfg.Query {
		query[key] = values
	}
	if r.cfg.MessagingBaseURL != "" {
		query.Set("ftMsgUrl", fmt.Sprintf("%s/out/%s", r.cfg.MessagingBaseURL, r.cfg.ExperienceID))
	}
	u := url.URL{
		Scheme:   "http",
		Host:     fmt.Sprintf("localhost:%d", port),
		Path:     path,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// StaticHandler serves an experience's files with an index fallback so
// client-side routed apps resolve deep links.
func StaticHandler(root string) http.Handler {
	fileServer := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		candidate := filepath.Join(root, filepath.Clean("/"+req.URL.Path))
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, req)
			return
		}
		http.ServeFile(w, req, filepath.Join(root, "index.html"))
	})
}
