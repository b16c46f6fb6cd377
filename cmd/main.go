package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"lending/internal/config"
	"lending/internal/pkg/password"
	"lending/internal/repositories"
	"lending/internal/services"
)

// app holds the wired dependencies shared by every subcommand.
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	lending services.LendingService
	catalog services.CatalogService
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := config.ConnectDatabase(cfg)
	if err != nil {
		return nil, err
	}

	userRepo := repositories.NewUserRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	loanRepo := repositories.NewLoanRepository(db)
	txnRepo := repositories.NewTransactionRepository(db)
	reportRepo := repositories.NewReportRepository(db)

	tx := services.NewTxRunner(db)

	return &app{
		cfg:     cfg,
		db:      db,
		lending: services.NewLendingService(tx, userRepo, bookRepo, loanRepo, txnRepo, reportRepo),
		catalog: services.NewCatalogService(tx, userRepo, bookRepo, password.DefaultCost),
	}, nil
}

func (a *app) close() {
	if err := config.CloseDatabase(a.db); err != nil {
		log.Printf("[WARN] close database: %v", err)
	}
}

func main() {
	root := &cobra.Command{
		Use:           "lending",
		Short:         "Library lending service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newReevaluateLocksCmd(),
		newHashAdminCodeCmd(),
		newTransactionsCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}
