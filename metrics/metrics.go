package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"mrcrypt/mrcrypt/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type (
	MetricsProvider interface {
		Start() error
		Stop() error
	}

	httpPromMetricsProvider struct {
		host   string
		port   int
		path   string
		server *http.Server
		logger *zap.Logger
	}

	noopMetricsProvider struct{}
)

// newMetricsProvider exposes a Prometheus endpoint for long batch runs. With
// no metrics port configured, measurements still aggregate in-process but
// nothing is served.
func newMetricsProvider(lc fx.Lifecycle, configProvider config.ConfigProvider, logger *zap.Logger) MetricsProvider {
	if _, err := InitPrometheus(); err != nil {
		logger.Fatal("failed to initialize prometheus provider", zap.Error(err))
	}

	cfg := configProvider.GetConfig().Metrics
	if cfg.Port == 0 {
		return noopMetricsProvider{}
	}

	provider := &httpPromMetricsProvider{
		host:   cfg.Host,
		port:   cfg.Port,
		path:   DefaultPrometheusPath,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.Handle(provider.path, promhttp.Handler())
	provider.server = &http.Server{Addr: provider.getHostPort(), Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return provider.Start()
		},
		OnStop: func(ctx context.Context) error {
			return provider.Stop()
		},
	})

	return provider
}

func (h *httpPromMetricsProvider) Start() error {
	go func() {
		h.logger.Info("metrics server started", zap.String("endpoint", h.getHostPortPath()))
		if err := h.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("metrics server error", zap.Error(err))
		}
	}()

	return nil
}

func (h *httpPromMetricsProvider) Stop() error {
	return h.server.Close()
}

func (h *httpPromMetricsProvider) getHostPort() string {
	return fmt.Sprintf("%s:%d", h.host, h.port)
}

func (h *httpPromMetricsProvider) getHostPortPath() string {
	return fmt.Sprintf("%s:%d%s", h.host, h.port, h.path)
}

func (noopMetricsProvider) Start() error { return nil }
func (noopMetricsProvider) Stop() error  { return nil }
