package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zereker/msgnet"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func serveCmd(load func() (Config, error)) *cobra.Command {
	var (
		port        int
		host        string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long: `Run the chat server until interrupted.

Every client is greeted on connect and thanked for each message it
sends. When --metrics is set, Prometheus metrics and a connection
listing are served over HTTP.

Examples:
  chat serve
  chat serve --port 9000 --metrics :9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("metrics") {
				cfg.MetricsAddr = metricsAddr
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from config)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Address for the HTTP metrics endpoint")

	return cmd
}

func runServe(ctx context.Context, cfg Config) error {
	logger, err := newLogger("server", cfg.LogLevel)
	if err != nil {
		return err
	}
	netLogger := msgnet.NewLogrusLogger(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server, err := msgnet.NewServer(newRegistry(), &chatHandler{logger: logger},
		msgnet.ServerLoggerOption(netLogger),
		msgnet.ServerHostOption(cfg.Host),
		msgnet.PollIntervalOption(cfg.PollInterval),
		msgnet.MaxConnectionsOption(cfg.MaxConnections),
		msgnet.ConnOptions(connOptions(cfg, netLogger)...),
		msgnet.ServerMetricsOption(msgnet.NewMetrics(reg, "chat")),
	)
	if err != nil {
		return err
	}
	if err = server.Start(cfg.Port); err != nil {
		return err
	}
	defer server.Stop()

	if cfg.MetricsAddr != "" {
		httpServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newRouter(reg, server),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
		logger.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- server.Wait() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		server.Stop()
		return <-errc
	case err = <-errc:
		return err
	}
}

// chatHandler greets clients and thanks them for every message.
type chatHandler struct {
	logger logrus.FieldLogger
}

func (h *chatHandler) OnClientConnected(conn *msgnet.ClientConnection) {
	h.logger.WithField("id", conn.ID()).Info("client connected")
	if err := conn.Send(msgnet.NewStringMessage(welcomeText)); err != nil {
		h.logger.WithField("id", conn.ID()).WithError(err).Warn("welcome failed")
	}
}

func (h *chatHandler) OnClientDisconnected(conn *msgnet.ClientConnection) {
	h.logger.WithField("id", conn.ID()).Info("client disconnected")
}

func (h *chatHandler) OnClientMessage(conn *msgnet.ClientConnection, messages *msgnet.Queue) {
	for _, m := range messages.Drain() {
		h.logger.WithFields(logrus.Fields{"id": conn.ID(), "message": m}).Info("received")
		if err := conn.Send(msgnet.NewStringMessage(thanksText)); err != nil {
			h.logger.WithField("id", conn.ID()).WithError(err).Warn("reply failed")
			return
		}
	}
}

type connectionInfo struct {
	ID     uint64 `json:"id"`
	Remote string `json:"remote"`
	State  string `json:"state"`
}

func newRouter(reg *prometheus.Registry, server *msgnet.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !server.IsRunning() {
			http.Error(w, server.State().String(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/connections", func(w http.ResponseWriter, _ *http.Request) {
		conns := server.Connections()
		list := make([]connectionInfo, 0, len(conns))
		for _, c := range conns {
			list = append(list, connectionInfo{
				ID:     c.ID(),
				Remote: c.RemoteAddr().String(),
				State:  c.State().String(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(list)
	})

	return r
}
