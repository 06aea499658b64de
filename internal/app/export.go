package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tact/internal/domain"
	"tact/internal/export"
)

func (c *cli) exportCmd() *cobra.Command {
	var out, from, to, status string
	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Write a timesheet workbook",
		Example: `  tact export --from 2026-03-01 --to 2026-03-31 --out march.xlsx`,
		Args:    cobra.NoArgs,
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			fromDate, err := parseDate(from)
			if err != nil {
				return err
			}
			toDate, err := parseDate(to)
			if err != nil {
				return err
			}
			st := domain.EntryStatus(status)
			if st != "" && !st.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}

			recs, err := export.CollectEntries(cmd.Context(), e.store, export.Filter{From: fromDate, To: toDate, Status: st})
			if err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := export.WriteTimesheet(f, recs); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", len(recs), out)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&out, "out", "o", "timesheet.xlsx", "output file")
	cmd.Flags().StringVar(&from, "from", "", "first entry date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last entry date YYYY-MM-DD")
	cmd.Flags().StringVar(&status, "status", "", "status to export (default parsed)")
	return cmd
}
