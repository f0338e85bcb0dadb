package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/internal/infra/archive"
	"github.com/openctemio/invitations/internal/infra/controller"
	"github.com/openctemio/invitations/internal/infra/postgres"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire pending invitations past their expiry",
	Long: `sweep runs one pass of the expiry controller: pending invitations whose
expiry has passed move to EXPIRED. The server does this on an interval;
run it by hand after downtime or to drain a backlog.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal invitations and audit entries past retention",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func init() {
	sweepCmd.Flags().Int("batch-size", 0, "Invitations expired per batch (default: INVITATION_SWEEP_BATCH_SIZE)")
	sweepCmd.Flags().Int("max-batches", 100, "Maximum batches to drain")
	sweepCmd.Flags().Duration("timeout", 10*time.Minute, "Abort after this long")

	cleanupCmd.Flags().Int("retention-days", 0, "Override INVITATION_RETENTION_DAYS")
	cleanupCmd.Flags().Bool("no-archive", false, "Skip the S3 archive even when ARCHIVE_ENABLED=true")
	cleanupCmd.Flags().Duration("timeout", time.Hour, "Abort after this long")
}

// SweepResult is the output of the sweep command.
type SweepResult struct {
	Expired  int    `json:"expired" yaml:"expired"`
	Duration string `json:"duration" yaml:"duration"`
}

func runSweep(cmd *cobra.Command, _ []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	svc, _, err := e.invitationService()
	if err != nil {
		return err
	}

	batchSize, _ := cmd.Flags().GetInt("batch-size")
	if batchSize <= 0 {
		batchSize = e.cfg.Invitation.SweepBatchSize
	}
	maxBatches, _ := cmd.Flags().GetInt("max-batches")

	expiry := controller.NewInvitationExpiryController(svc, controller.InvitationExpiryControllerConfig{
		BatchSize:  batchSize,
		MaxBatches: maxBatches,
		Logger:     e.log,
	})
	manager := controller.NewManager(controller.ManagerConfig{Logger: e.log})
	if err := manager.Register(expiry); err != nil {
		return err
	}

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	start := time.Now()
	expired, err := manager.RunOnce(ctx, expiry.Name())
	if err != nil {
		return fmt.Errorf("sweep failed after expiring %d: %w", expired, err)
	}

	resp := SweepResult{Expired: expired, Duration: time.Since(start).Round(time.Millisecond).String()}
	switch flagOutput {
	case outputJSON:
		return printJSON(resp)
	case outputYAML:
		return printYAML(resp)
	default:
		fmt.Printf("Expired %d invitation(s) in %s.\n", resp.Expired, resp.Duration)
	}
	return nil
}

// CleanupOutput is the output of the cleanup command.
type CleanupOutput struct {
	InvitationsDeleted int64    `json:"invitations_deleted" yaml:"invitations_deleted"`
	AuditDeleted       int64    `json:"audit_deleted" yaml:"audit_deleted"`
	Archived           []string `json:"archived" yaml:"archived"`
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	retentionDays, _ := cmd.Flags().GetInt("retention-days")
	if retentionDays <= 0 {
		retentionDays = e.cfg.Invitation.RetentionDays
	}

	var archiver app.Archiver
	if noArchive, _ := cmd.Flags().GetBool("no-archive"); !noArchive && e.cfg.Archive.Enabled {
		s3, err := archive.NewS3Archiver(ctx, e.cfg.Archive, e.log)
		if err != nil {
			return fmt.Errorf("create archiver: %w", err)
		}
		archiver = s3
	}

	auditService := app.NewAuditService(postgres.NewAuditRepository(e.db), e.log)
	retention := app.NewRetentionService(postgres.NewInvitationRepository(e.db), auditService, archiver, app.RetentionConfig{
		RetentionDays:      retentionDays,
		AuditRetentionDays: e.cfg.Invitation.AuditRetention,
		BatchSize:          e.cfg.Invitation.SweepBatchSize,
	}, e.log)

	result, err := retention.Cleanup(ctx)
	if err != nil {
		return err
	}

	resp := CleanupOutput{
		InvitationsDeleted: result.InvitationsDeleted,
		AuditDeleted:       result.AuditDeleted,
		Archived:           result.Archived,
	}
	switch flagOutput {
	case outputJSON:
		return printJSON(resp)
	case outputYAML:
		return printYAML(resp)
	default:
		fmt.Printf("Deleted %d invitation(s) and %d audit entr(ies).\n", resp.InvitationsDeleted, resp.AuditDeleted)
		for _, key := range resp.Archived {
			fmt.Printf("  archived %s\n", key)
		}
	}
	return nil
}
