// Command intakectl runs operator and maintenance tasks against the intake
// database: schema migration, bulk import, claim reaping and token issue.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"contractflow/app"
	"contractflow/config"
	"contractflow/db"
	"contractflow/operator"
	"contractflow/staging"
)

type rootOptions struct {
	configPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "intakectl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "intakectl",
		Short:         "Contract intake operations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CONTRACTFLOW_CONFIG"), "path to a YAML config file")

	root.AddCommand(
		newMigrateCmd(opts),
		newImportCmd(opts),
		newTemplateCmd(),
		newReapCmd(opts),
		newNumbersCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}

// withApp opens the database-backed services for the duration of fn.
func (o *rootOptions) withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url (or DATABASE_URL) is required")
	}
	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(a)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				applied, err := db.Migrate(cmd.Context(), a.Pool)
				if err != nil {
					return err
				}
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
				}
				return nil
			})
		},
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Stage every contract in a .csv or .xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".csv" && ext != ".xlsx" {
				return fmt.Errorf("unsupported file type %q: want .csv or .xlsx", ext)
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			return opts.withApp(cmd.Context(), func(a *app.App) error {
				var (
					result staging.ImportResult
					err    error
				)
				if ext == ".csv" {
					result, err = a.Staging.ImportCSV(cmd.Context(), as, f)
				} else {
					result, err = a.Staging.ImportXLSX(cmd.Context(), as, f)
				}
				var malformed *staging.MalformedRowError
				if errors.As(err, &malformed) {
					return fmt.Errorf("%s: row %d, column %q: %s", path, malformed.Row, malformed.Column, malformed.Reason)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "staged %d contracts (%d line items)\n", len(result.ContractIDs), result.LineItems)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "operator name recorded as created_by (required)")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Print the CSV import template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return staging.WriteTemplate(cmd.OutOrStdout())
		},
	}
}

func newReapCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reap-claims",
		Short: "Release claims whose lease has expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.Staging.ReleaseExpiredClaims(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %d expired claims\n", n)
				return nil
			})
		},
	}
}

func newNumbersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "numbers",
		Short: "Show the next PO and Tab numbers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				nums, err := a.Numbers.Peek(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "next po=%d tab=%d\n", nums.PO, nums.Tab)
				return nil
			})
		},
	}
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <operator>",
		Short: "Issue a bearer token for an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Auth.TokenExpireHours) * time.Hour
			}
			tokens, err := operator.NewTokens(cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			token, expires, err := tokens.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from auth.token_expire_hours)")
	return cmd
}
