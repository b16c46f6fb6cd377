package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"lending/internal/config"
	"lending/internal/models"
	"lending/internal/pkg/password"
	"lending/internal/repositories"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := config.Migrate(a.db); err != nil {
				return err
			}
			log.Println("[INFO] migrate: schema up to date")
			return nil
		},
	}
}

func newReevaluateLocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reevaluate-locks",
		Short: "Recompute every account lock flag from outstanding loans",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			changed, err := a.lending.ReevaluateAllLocks(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d lock flags changed\n", changed)
			return nil
		},
	}
}

func newHashAdminCodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-admin-code",
		Short: "Read an admin code and print its bcrypt hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSecret(cmd.ErrOrStderr(), "Enter admin code: ")
			if err != nil {
				return fmt.Errorf("failed to read admin code: %w", err)
			}
			if code == "" {
				return fmt.Errorf("admin code must not be empty")
			}
			hash, err := password.Hash(code, password.AdminCodeCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// readSecret reads a masked line from a terminal, or a plain line when stdin
// is piped.
func readSecret(prompt io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newTransactionsCmd() *cobra.Command {
	var (
		username string
		action   string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Print the transaction history as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			rows, err := a.lending.TransactionHistory(cmd.Context(), repositories.HistoryFilter{
				Username: username,
				Action:   models.TransactionAction(action),
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []models.TransactionView{}
			}

			out, err := json.MarshalIndent(rows, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "only this user's entries")
	cmd.Flags().StringVar(&action, "action", "", "only borrowed, returned or locked entries")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries (0 for all)")
	return cmd
}
