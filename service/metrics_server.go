package service

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the default Prometheus registry on /metrics
type MetricsServer struct {
	server *http.Server
	addr   net.Addr
}

func (m *MetricsServer) Listen(addr string) (net.Listener, error) {
	hdlr := http.NewServeMux()
	hdlr.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	m.server = &http.Server{
		Handler: hdlr,
		Addr:    addr,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	m.addr = ln.Addr()
	return ln, nil
}

func (m *MetricsServer) Serve(ln net.Listener) error {
	return m.server.Serve(ln)
}

func (m *MetricsServer) Addr() net.Addr {
	return m.addr
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
