// ABOUTME: The audit subcommand: lists recent executor audit entries from the SQLite store
// ABOUTME: Supports --tool, --outcome, --since and --limit filters

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/workbridge/internal/store"
)

const auditUsage = "usage: audit [--tool <name>] [--outcome ok|denied|error] [--since <duration>] [--limit <n>]"

// parseAuditArgs turns audit subcommand flags into a store filter.
func parseAuditArgs(args []string, now time.Time) (store.AuditFilter, error) {
	var f store.AuditFilter

	for i := 0; i < len(args); i++ {
		if i+1 >= len(args) {
			return f, fmt.Errorf("%s: missing value for %s", auditUsage, args[i])
		}
		val := args[i+1]
		switch args[i] {
		case "--tool", "-t":
			f.Tool = &val
		case "--outcome", "-o":
			outcome := store.AuditOutcome(val)
			switch outcome {
			case store.OutcomeOK, store.OutcomeDenied, store.OutcomeError:
			default:
				return f, fmt.Errorf("unknown outcome %q", val)
			}
			f.Outcome = &outcome
		case "--since", "-s":
			d, err := time.ParseDuration(val)
			if err != nil {
				return f, fmt.Errorf("invalid --since: %w", err)
			}
			since := now.Add(-d)
			f.Since = &since
		case "--limit", "-n":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return f, fmt.Errorf("invalid --limit %q", val)
			}
			f.Limit = n
		default:
			return f, fmt.Errorf("%s: unknown flag %s", auditUsage, args[i])
		}
		i++
	}
	return f, nil
}

func audit(ctx context.Context, args []string) error {
	filter, err := parseAuditArgs(args, time.Now())
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := store.NewSQLiteStore(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer s.Close()

	entries, err := s.ListAuditLog(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}
	printAudit(os.Stdout, entries)
	return nil
}

func printAudit(out io.Writer, entries []store.AuditEntry) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  Audit Log")
	cyan.Fprintln(out, "  ---------")

	if len(entries) == 0 {
		fmt.Fprintln(out, "  (no entries)")
		fmt.Fprintln(out)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tTOOL\tOUTCOME\tDURATION\tDETAIL")
	fmt.Fprintln(w, "  ----\t----\t-------\t--------\t------")
	for _, e := range entries {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"),
			e.Tool,
			e.Outcome,
			e.Duration.Round(time.Millisecond),
			truncate(e.Detail, 60),
		)
	}
	w.Flush()
	fmt.Fprintln(out)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
