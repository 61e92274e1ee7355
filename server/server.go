// Package server acquires the HTTP server that serves the pages under test for
// the duration of a run.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-pagecheck/poll"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

const (
	// Host is the loopback address servers are dialed and bound on.
	Host = "127.0.0.1"

	stopGracePeriod = 5 * time.Second
	dialTimeout     = 500 * time.Millisecond
)

// ErrPortInUse is returned when the port is taken and reuse is not allowed.
var ErrPortInUse = errors.New("port already in use")

// Mode records how a server was acquired.
type Mode string

const (
	ModeReused    Mode = "reused"
	ModeCommand   Mode = "command"
	ModeInProcess Mode = "in-process"
)

// Config contains server configuration
type Config struct {
	Log       log.Logger
	WebServer types.WebServerConfig
}

// Server is an acquired web server. Release must be called exactly once the
// run is over; further calls are no-ops.
type Server struct {
	log  log.Logger
	mode Mode
	port int

	httpServer *http.Server
	serveErr   chan error

	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error

	releaseOnce sync.Once
	releaseErr  error
}

// Acquire makes a server available on the configured port. An already
// listening server is reused when allowed. Otherwise the command is started
// and polled until it accepts connections, or, without a command, the root
// directory is served in-process. Port 0 is only valid in-process and picks a
// free port.
func Acquire(ctx context.Context, cfg Config) (*Server, error) {
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	ws := cfg.WebServer
	logger = logger.New("component", "webserver")

	if ws.Port != 0 && isListening(ctx, ws.Port) {
		if !ws.ReuseExistingServer {
			return nil, fmt.Errorf("%w: %d (set reuseExistingServer to use the running server)", ErrPortInUse, ws.Port)
		}
		logger.Info("Reusing existing server", "port", ws.Port)
		return &Server{log: logger, mode: ModeReused, port: ws.Port}, nil
	}

	if ws.Command != "" {
		return startCommand(ctx, logger, ws)
	}
	return startInProcess(logger, ws)
}

// Mode returns how the server was acquired.
func (s *Server) Mode() Mode {
	return s.mode
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	return s.port
}

// URL returns the base URL of the server.
func (s *Server) URL() string {
	return "http://" + net.JoinHostPort(Host, strconv.Itoa(s.port))
}

// Release stops a server this process started. Reused servers are left running.
func (s *Server) Release(ctx context.Context) error {
	s.releaseOnce.Do(func() {
		switch s.mode {
		case ModeInProcess:
			s.log.Info("Stopping in-process server", "port", s.port)
			s.releaseErr = s.httpServer.Shutdown(ctx)
			if err := <-s.serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) && s.releaseErr == nil {
				s.releaseErr = err
			}
		case ModeCommand:
			s.log.Info("Stopping server command", "pid", s.cmd.Process.Pid)
			s.releaseErr = s.stopCommand(ctx)
		}
	})
	return s.releaseErr
}

// Handler serves root as static files.
func Handler(root string, logger log.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			logger.Trace("Serving request", "method", req.Method, "path", req.URL.Path)
			next.ServeHTTP(w, req)
		})
	})
	r.Methods(http.MethodGet, http.MethodHead).PathPrefix("/").Handler(http.FileServer(http.Dir(root)))
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(r)
}

func startInProcess(logger log.Logger, ws types.WebServerConfig) (*Server, error) {
	info, err := os.Stat(ws.Root)
	if err != nil {
		return nil, fmt.Errorf("web server root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("web server root %s is not a directory", ws.Root)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(Host, strconv.Itoa(ws.Port)))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", ws.Port, err)
	}
	s := &Server{
		log:  logger,
		mode: ModeInProcess,
		port: ln.Addr().(*net.TCPAddr).Port,
		httpServer: &http.Server{
			Handler:           Handler(ws.Root, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		serveErr: make(chan error, 1),
	}
	go func() {
		s.serveErr <- s.httpServer.Serve(ln)
	}()
	logger.Info("Serving static files", "root", ws.Root, "url", s.URL())
	return s, nil
}

func startCommand(ctx context.Context, logger log.Logger, ws types.WebServerConfig) (*Server, error) {
	cmd := shellCommand(ws.Command)
	if ws.Root != "" {
		cmd.Dir = ws.Root
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	setProcessGroup(cmd)

	logger.Info("Starting server command", "command", ws.Command, "port", ws.Port)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting web server command: %w", err)
	}
	s := &Server{
		log:    logger,
		mode:   ModeCommand,
		port:   ws.Port,
		cmd:    cmd,
		exited: make(chan struct{}),
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	// An exited command ends the wait early and is reported below.
	err := poll.Until(ctx, poll.Options{Op: "webServer " + ws.Command, Timeout: ws.Timeout}, func(ctx context.Context) (bool, error) {
		select {
		case <-s.exited:
			return true, nil
		default:
		}
		return isListening(ctx, ws.Port), nil
	})
	if err != nil {
		_ = s.stopCommand(context.Background())
		return nil, fmt.Errorf("waiting for web server: %w", err)
	}
	select {
	case <-s.exited:
		return nil, fmt.Errorf("web server command exited before accepting connections: %v", s.waitErr)
	default:
	}
	logger.Info("Server command ready", "url", s.URL())
	return s, nil
}

func (s *Server) stopCommand(ctx context.Context) error {
	select {
	case <-s.exited:
		return nil
	default:
	}
	if err := terminate(s.cmd); err != nil {
		s.log.Warn("Failed to signal server command", "err", err)
	}
	timer := time.NewTimer(stopGracePeriod)
	defer timer.Stop()
	select {
	case <-s.exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	s.log.Warn("Server command did not stop, killing it", "pid", s.cmd.Process.Pid)
	if err := kill(s.cmd); err != nil {
		return fmt.Errorf("killing web server command: %w", err)
	}
	<-s.exited
	return nil
}

func isListening(ctx context.Context, port int) bool {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(Host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
