// Package cmd implements invitectl, the operator CLI for the invitation
// service. It talks to the database directly with the server's
// configuration, so it runs wherever the server's environment is set.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/internal/config"
	"github.com/openctemio/invitations/internal/infra/postgres"
	"github.com/openctemio/invitations/pkg/crypto"
	"github.com/openctemio/invitations/pkg/logger"
)

var (
	version string

	// Global flags
	flagOutput  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "invitectl",
	Short: "Invitation service operations CLI",
	Long: `invitectl runs maintenance and reporting tasks against the invitation
database: schema migrations, expiry sweeps, retention cleanup, statistics
and CSV exports.

Configuration is read from the same environment variables as the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. An interrupt cancels the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("invitectl version %s\n", version)
		fmt.Printf("  Go:       %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// env is the runtime a command works against.
type env struct {
	cfg *config.Config
	log *logger.Logger
	db  *postgres.DB
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := "warn"
	if flagVerbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Format: "text", Output: rootCmd.ErrOrStderr()})

	db, err := postgres.Connect(rootCmd.Context(), &cfg.Database,
		postgres.WithStartupRetry(cfg.Database.ConnectAttempts, cfg.Database.ConnectBackoff),
		postgres.WithConnectLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &env{cfg: cfg, log: log, db: db}, nil
}

func (e *env) Close() {
	if err := e.db.Close(); err != nil {
		e.log.Error("failed to close database", "error", err)
	}
}

func (e *env) encryptor() (crypto.Encryptor, error) {
	if !e.cfg.Encryption.IsConfigured() {
		return crypto.NoOpEncryptor{}, nil
	}
	return crypto.NewCipherFromHex(e.cfg.Encryption.Key)
}

// invitationService builds the service the way the server does, without
// email delivery.
func (e *env) invitationService() (*app.InvitationService, *app.AuditService, error) {
	enc, err := e.encryptor()
	if err != nil {
		return nil, nil, err
	}
	auditService := app.NewAuditService(postgres.NewAuditRepository(e.db), e.log)
	svc := app.NewInvitationService(
		postgres.NewInvitationRepository(e.db),
		postgres.NewTenantRepository(e.db),
		postgres.NewUserRepository(e.db, enc),
		postgres.NewRoleRepository(e.db),
		auditService,
		e.cfg.Invitation.TTL,
		e.log,
	)
	return svc, auditService, nil
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), timeout)
}
