package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tx-dispatcher-sol/internal/pkg/logger"
)

const shutdownTimeout = 3 * time.Second

// MetricsService 暴露 /metrics，实现 go-zero service.Service
type MetricsService struct {
	server *http.Server
}

func NewMetricsService(addr string, gatherer prometheus.Gatherer) *MetricsService {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &MetricsService{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (m *MetricsService) Start() {
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		logger.Errorf("[MetricsService] listen %s failed: %v", m.server.Addr, err)
		return
	}
	m.serve(ln)
}

func (m *MetricsService) serve(ln net.Listener) {
	logger.Infof("[MetricsService] serving /metrics on %s", ln.Addr())
	if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("[MetricsService] serve failed: %v", err)
	}
}

func (m *MetricsService) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		logger.Warnf("[MetricsService] shutdown: %v", err)
	}
}
