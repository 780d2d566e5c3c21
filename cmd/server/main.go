package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"verification-service/internal/config"
	"verification-service/internal/factory"
	"verification-service/internal/handler"
	"verification-service/internal/tls"
	"verification-service/internal/util"
)

func main() {
	cfg := config.LoadConfig()
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	if err := cfg.Validate(); err != nil {
		util.Fatal("Invalid configuration", util.ErrorField(err))
	}

	// Without brokers the queue is in-process, so this process also delivers.
	role := factory.RoleServer
	if len(cfg.Kafka.Brokers) == 0 {
		role = factory.RoleAll
	}

	f, err := factory.NewFactory(cfg, role)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	services := f.ServiceFactory()
	router := handler.NewRouter(cfg.Server,
		handler.NewVerificationHandler(services.VerificationService(), logger),
		handler.NewAccountHandler(services.AccountService(), logger),
		handler.NewOAuthHandler(services.OAuthService(), logger),
		f,
		logger,
	)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.TLS.Enabled {
		tlsManager, err := tls.NewManager(cfg.Server.TLS, cfg.IsProduction(), logger)
		if err != nil {
			util.Fatal("Failed to configure TLS", util.ErrorField(err))
		}
		server.TLSConfig = tlsManager.TLSConfig()
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		util.Info("Server started successfully",
			util.String("environment", cfg.Environment),
			util.String("role", role.String()),
			util.String("address", server.Addr),
			util.Bool("tls_enabled", server.TLSConfig != nil),
		)
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		util.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return f.RunAudit(ctx)
	})

	if role == factory.RoleAll {
		w, err := f.Worker(ctx)
		if err != nil {
			util.Fatal("Failed to create SMS worker", util.ErrorField(err))
		}
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		util.Error("Server exited with error", util.ErrorField(err))
		f.Close()
		os.Exit(1)
	}
	util.Info("Server shutdown completed")
}
