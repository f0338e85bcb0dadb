package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/internal/infra/postgres"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
)

var statsCmd = &cobra.Command{
	Use:   "stats TENANT_ID",
	Short: "Show invitation statistics for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var exportCmd = &cobra.Command{
	Use:   "export TENANT_ID",
	Short: "Export a tenant's invitations as CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	statsCmd.Flags().Duration("timeout", time.Minute, "Abort after this long")

	exportCmd.Flags().String("status", "", "Only this status: pending, accepted, expired, cancelled")
	exportCmd.Flags().String("from", "", "Created at or after (RFC 3339 or YYYY-MM-DD)")
	exportCmd.Flags().String("to", "", "Created at or before (RFC 3339 or YYYY-MM-DD)")
	exportCmd.Flags().Bool("include-expired", false, "Include expired invitations when no status is given")
	exportCmd.Flags().StringP("file", "f", "", "Write to this file instead of stdout")
	exportCmd.Flags().Duration("timeout", 5*time.Minute, "Abort after this long")
}

func (e *env) reportService() *app.InvitationReportService {
	auditService := app.NewAuditService(postgres.NewAuditRepository(e.db), e.log)
	return app.NewInvitationReportService(postgres.NewInvitationStatsRepository(e.db), auditService, nil, e.log)
}

func runStats(cmd *cobra.Command, args []string) error {
	tenantID, err := shared.IDFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid tenant id %q", args[0])
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	stats, err := e.reportService().GetInvitationStatistics(ctx, tenantID)
	if err != nil {
		return err
	}

	switch flagOutput {
	case outputJSON:
		return printJSON(stats)
	case outputYAML:
		return printYAML(stats)
	default:
		printStatsTable(stats)
	}
	return nil
}

func printStatsTable(stats *app.InvitationStatistics) {
	fmt.Fprintf(stdout, "Invitation Statistics\n")
	fmt.Fprintf(stdout, "  Total:              %d\n", stats.Total)
	fmt.Fprintf(stdout, "  Acceptance rate:    %.2f%% (30d: %.2f%%)\n", stats.AcceptanceRate, stats.AcceptanceRate30d)
	fmt.Fprintf(stdout, "  Created 24h/7d/30d: %d/%d/%d\n", stats.CreatedLast24h, stats.CreatedLast7d, stats.CreatedLast30d)
	fmt.Fprintf(stdout, "  Expiring in 24h:    %d\n", stats.ExpiringWithin24h)
	fmt.Fprintf(stdout, "  Expired last 7d:    %d\n\n", stats.ExpiredLast7d)

	kinds := make([]invitation.StatusKind, 0, len(stats.ByStatus))
	for k := range stats.ByStatus {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	t := newTable("STATUS", "COUNT")
	for _, k := range kinds {
		t.AddRow(k.String(), strconv.FormatInt(stats.ByStatus[k], 10))
	}
	t.Flush()
}

func runExport(cmd *cobra.Command, args []string) error {
	tenantID, err := shared.IDFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid tenant id %q", args[0])
	}
	filter, err := exportFilter(cmd)
	if err != nil {
		return err
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	data, err := e.reportService().ExportInvitationReportAsCSV(ctx, tenantID, filter)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", len(data), path)
	return nil
}

// exportFilter reads the filter flags. Bare dates are midnight UTC.
func exportFilter(cmd *cobra.Command) (invitation.ReportFilter, error) {
	var filter invitation.ReportFilter

	if s, _ := cmd.Flags().GetString("status"); s != "" {
		kind, err := invitation.ParseStatusKind(s)
		if err != nil {
			return filter, fmt.Errorf("invalid --status %q", s)
		}
		filter.Status = &kind
	}

	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		s, _ := cmd.Flags().GetString(f.name)
		if s == "" {
			continue
		}
		t, err := parseTimeFlag(s)
		if err != nil {
			return filter, fmt.Errorf("invalid --%s %q: use RFC 3339 or YYYY-MM-DD", f.name, s)
		}
		*f.dst = &t
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, fmt.Errorf("--to must not be before --from")
	}

	filter.IncludeExpired, _ = cmd.Flags().GetBool("include-expired")
	return filter, nil
}

func parseTimeFlag(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
