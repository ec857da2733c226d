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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/formreader/internal/config"
	"github.com/example/formreader/internal/extraction"
	"github.com/example/formreader/internal/gemini"
	"github.com/example/formreader/internal/handlers"
	"github.com/example/formreader/internal/logging"
	"github.com/example/formreader/internal/middleware"
	"github.com/example/formreader/internal/usecase"
)

func main() {
	envErr := config.LoadEnvFile()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if envErr != nil {
		logger.Debug("no .env file loaded, using process environment", zap.Error(envErr))
	}
	if cfg.APIKey == "" {
		logger.Warn("model credential is not set; extraction requests will fail", zap.String("env", config.APIKeyEnv))
	}

	client := extraction.NewClient(cfg, gemini.Factory(), logger)
	uc := usecase.NewFormExtractionUseCase(client, cfg.MaxImagePixels, logger)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: newRouter(cfg, uc, logger),
	}

	logger.Info("form reader listening", zap.String("addr", cfg.Addr), zap.String("model", cfg.Model))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newRouter(cfg config.Config, processor handlers.Processor, logger *zap.Logger) *gin.Engine {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.RequestLogger(logger))
	r.MaxMultipartMemory = cfg.MaxUploadSize
	handlers.RegisterRoutes(r, processor, cfg.MaxUploadSize)
	return r
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
