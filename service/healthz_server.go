package service

import (
	"context"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

type HealthzServer struct {
	log    log.Logger
	server *http.Server
	addr   net.Addr
}

// Listen binds addr so the caller learns bind errors before serving starts.
func (h *HealthzServer) Listen(addr string) (net.Listener, error) {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	h.server = &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	h.addr = ln.Addr()
	return ln, nil
}

func (h *HealthzServer) Serve(ln net.Listener) error {
	return h.server.Serve(ln)
}

// Addr returns the bound address, or nil before Listen.
func (h *HealthzServer) Addr() net.Addr {
	return h.addr
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Trace("received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}
