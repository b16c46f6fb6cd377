package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"lending/internal/config"
	"lending/internal/handlers"
	"lending/internal/services"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the lock sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if migrate {
				if err := config.Migrate(a.db); err != nil {
					return err
				}
			}
			return serve(a)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run schema migration before serving")
	return cmd
}

func serve(a *app) error {
	if a.cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	handlers.RegisterRoutes(router, a.lending, a.catalog, pingDB(a.db))

	if a.cfg.LockSweepSchedule != "" {
		sweeper := services.NewLockSweeper(a.lending, a.cfg.LockSweepSchedule)
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()
	} else {
		log.Println("[INFO] serve: lock sweep disabled")
	}

	srv := &http.Server{
		Addr:         a.cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INFO] serve: listening on %s [MODE: %s]", a.cfg.ServerAddr, a.cfg.AppMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-quit:
	}

	log.Println("[INFO] serve: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	log.Println("[INFO] serve: stopped")
	return nil
}

func pingDB(db *gorm.DB) handlers.PingFunc {
	return func(ctx context.Context) error {
		return config.HealthCheck(ctx, db)
	}
}
