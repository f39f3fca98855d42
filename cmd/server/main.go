package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"otp-service/internal/factory"
	"otp-service/internal/handler"
	"otp-service/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes the store)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	serviceFactory := f.ServiceFactory()

	// Setup HTTP router with handlers using Chi
	otpHandler := handler.NewOTPHandler(
		serviceFactory.OTPService(),
		serviceFactory.Reaper(),
		util.Get(),
	)
	router := handler.NewRouter(otpHandler, util.Get())

	// Create HTTP server with configured timeouts
	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Reaper runs on its own schedule, independent of the request path
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	if cfg.Reaper.Enabled {
		go serviceFactory.Reaper().Run(reaperCtx, cfg.Reaper.Interval)
	}

	go func() {
		var err error
		if cfg.Server.EnableTLS && cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
		util.Bool("reaper_enabled", cfg.Reaper.Enabled),
	)

	waitForShutdown(f, stopReaper, server)
}

func waitForShutdown(f *factory.Factory, stopReaper context.CancelFunc, server *http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	stopReaper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
	} else {
		util.Info("Server shutdown completed")
	}

	f.Close()
}
