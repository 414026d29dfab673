package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/autoscore/autoscore/internal/audit"
	"github.com/autoscore/autoscore/internal/config"
	"github.com/autoscore/autoscore/internal/model"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit store",
		Long:  "Read back the request records written by the server and the MCP tools.",
	}

	cmd.AddCommand(newAuditListCmd())

	return cmd
}

func newAuditListCmd() *cobra.Command {
	var (
		f          audit.Filter
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List audit records, newest first",
		Example: `  autoscore audit list --limit 20
  autoscore audit list --client "Acme Corp" --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditList(cmd, f, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&f.Limit, "limit", audit.DefaultLimit, "Maximum records to return")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "Records to skip")
	cmd.Flags().StringVar(&f.Client, "client", "", "Only records for this client name")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAuditList(cmd *cobra.Command, f audit.Filter, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Audit.Enabled {
		return fmt.Errorf("auditing is disabled (audit.enabled=false)")
	}
	if cfg.Audit.Driver == config.DriverMemory {
		return fmt.Errorf("the memory audit driver keeps no records between processes")
	}

	registry := newRegistry()
	defer registry.CloseAll()

	sink, err := audit.Open(cmd.Context(), cfg.Audit, registry)
	if err != nil {
		return err
	}
	defer sink.Close()

	reader, ok := sink.(audit.Reader)
	if !ok {
		return fmt.Errorf("audit driver %q cannot be queried", cfg.Audit.Driver)
	}

	records, err := reader.List(cmd.Context(), f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput || !isTerminal(out) {
		if records == nil {
			records = []model.AuditRecord{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	printAuditTable(out, records)
	return nil
}

func printAuditTable(out io.Writer, records []model.AuditRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No audit records.")
		return
	}

	const row = "%-20s %-6s %-6s %-22s %-24s %8s\n"
	fmt.Fprintf(out, row, "TIME", "STATUS", "METHOD", "PATH", "CLIENT", "MS")
	fmt.Fprintf(out, row, "----", "------", "------", "----", "------", "--")
	for _, rec := range records {
		client := "-"
		if rec.ClientName != nil {
			client = *rec.ClientName
		}
		fmt.Fprintf(out, row,
			rec.Timestamp.UTC().Format(time.DateTime),
			fmt.Sprint(rec.StatusCode),
			rec.Method,
			rec.Path,
			client,
			fmt.Sprintf("%.1f", rec.DurationMs),
		)
	}
}
