package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video-compare/internal/decoder"
	"video-compare/internal/filesystem"
	"video-compare/internal/handlers"
	"video-compare/internal/logging"
	"video-compare/internal/memory"
	"video-compare/internal/metrics"
	"video-compare/internal/middleware"
	"video-compare/internal/session"
	"video-compare/internal/settings"
	"video-compare/internal/startup"

	"github.com/gorilla/mux"
)

const (
	shutdownTimeout  = 30 * time.Second
	collectInterval  = 15 * time.Second
	readTimeout      = 15 * time.Second
	idleTimeout      = 60 * time.Second
	metricsTimeout   = 10 * time.Second
	metricsIdle      = 30 * time.Second
	settingsOpenWait = 10 * time.Second
)

func main() {
	startTime := time.Now()

	memConfig := memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	startup.LogMemoryConfig(memConfig)

	metrics.InitializeMetrics()
	buildInfo := startup.GetBuildInfo()
	metrics.SetAppInfo(buildInfo.Version, buildInfo.Commit, buildInfo.GoVersion)
	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(config.SourceVolumes))

	dbStart := time.Now()
	openCtx, cancelOpen := context.WithTimeout(context.Background(), settingsOpenWait)
	store, err := settings.Open(openCtx, config.DatabasePath)
	cancelOpen()
	if err != nil {
		startup.LogFatal("Failed to open settings store: %v", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	startup.LogDecoderInit(config)
	backend := decoder.NewFFmpeg(config.FFmpegPath, config.FFprobePath)

	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()

	manager := session.NewManager(sessionConfig(config, backend), config.MaxSessions, monitor)

	collector := metrics.NewCollector(manager, collectInterval)
	collector.Start()

	h := handlers.New(manager, store, handlerOptions(config))
	router := h.Router()
	startup.LogHTTPRoutes(router, config.LogFrames, config.LogHealthChecks)

	srv := newServer(config.Addr(), buildHandler(config, router))

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(net.JoinHostPort(config.BindAddr, config.MetricsPort), h)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		handleShutdown(srv, metricsSrv, manager, collector, monitor, backend, store)
	}()

	startup.LogServerStarted(startup.ServerConfig{
		BindAddr:        config.BindAddr,
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		MaxSessions:     config.MaxSessions,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

// sessionConfig builds the template every session is opened with.
func sessionConfig(config *startup.Config, backend decoder.Backend) session.Config {
	cfg := session.DefaultConfig()
	cfg.Decoder.CacheDuration = config.CacheDuration
	cfg.Decoder.RunAhead = config.RunAhead
	cfg.Decoder.ReopenGap = config.ReopenGap
	cfg.Decoder.Threads = config.DecodeThreads
	cfg.Sync.Timeout = config.SyncTimeout
	cfg.Playback.MaxTickRate = config.MaxTickRate
	cfg.Playback.EndPolicy = config.EndPolicy
	cfg.Backend = backend
	return cfg
}

func handlerOptions(config *startup.Config) handlers.Options {
	opts := handlers.DefaultOptions()
	opts.JPEGQuality = config.JPEGQuality
	opts.MJPEG.Quality = config.JPEGQuality
	return opts
}

// buildHandler wraps the router in the middleware chain. Logging is
// outermost so it records the final status.
func buildHandler(config *startup.Config, router *mux.Router) http.Handler {
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogFrames = config.LogFrames
	loggingConfig.LogHealthChecks = config.LogHealthChecks

	var handler http.Handler = router
	handler = middleware.Compression(middleware.DefaultCompressionConfig())(handler)
	handler = middleware.Metrics(middleware.DefaultMetricsConfig())(handler)
	handler = middleware.Logger(loggingConfig)(handler)
	return handler
}

// newServer creates the main server. WriteTimeout stays 0 so MJPEG streams
// and event sockets are not cut off.
func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: 0,
		IdleTimeout:  idleTimeout,
	}
}

func newMetricsServer(addr string, h *handlers.Handlers) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", h.MetricsHandler())
	metricsMux.HandleFunc("/health", h.HealthCheck)
	return &http.Server{
		Addr:         addr,
		Handler:      metricsMux,
		ReadTimeout:  metricsTimeout,
		WriteTimeout: metricsTimeout,
		IdleTimeout:  metricsIdle,
	}
}

func handleShutdown(
	srv, metricsSrv *http.Server,
	manager *session.Manager,
	collector *metrics.Collector,
	monitor *memory.Monitor,
	backend *decoder.FFmpeg,
	store *settings.Store,
) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Closing sessions")
	manager.CloseAll()
	startup.LogShutdownStepComplete("Sessions closed")

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Stopping metrics collector")
	collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	startup.LogShutdownStep("Stopping memory monitor")
	monitor.Stop()
	startup.LogShutdownStepComplete("Memory monitor stopped")

	startup.LogShutdownStep("Cleaning up decoder processes")
	backend.Cleanup()
	startup.LogShutdownStepComplete("Decoder cleanup complete")

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownStep("Closing settings store")
	if err := store.Close(); err != nil {
		logging.Warn("Settings store close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Settings store closed")
	}

	startup.LogShutdownComplete()
}
