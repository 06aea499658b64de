package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tact/internal/domain"
	"tact/internal/entries"
	"tact/internal/storage/sqlite"
)

func (c *cli) entryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Create, inspect and correct time entries",
	}
	cmd.AddCommand(
		c.entryAddCmd(),
		c.entryListCmd(),
		c.entryShowCmd(),
		c.entryEditCmd(),
		c.entryReparseCmd(),
		c.entryDeleteCmd(),
	)
	return cmd
}

func (c *cli) entryAddCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "add <text...>",
		Short: "Queue a free-text entry for parsing",
		Example: `  tact entry add "2h dev on alpha"
  tact entry add --date 2026-03-02 1h30m code review`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			entryDate, err := parseDate(date)
			if err != nil {
				return err
			}
			rec, err := e.entries.Create(cmd.Context(), strings.Join(args, " "), entryDate)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rec.ID, rec.Status)
			return nil
		}),
	}
	cmd.Flags().StringVar(&date, "date", "", "entry date YYYY-MM-DD (default today)")
	return cmd
}

func (c *cli) entryListCmd() *cobra.Command {
	var (
		status, timeCode, workType, from, to string
		limit, offset                        int
		asJSON                               bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries",
		Args:  cobra.NoArgs,
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			fromDate, err := parseDate(from)
			if err != nil {
				return err
			}
			toDate, err := parseDate(to)
			if err != nil {
				return err
			}
			recs, err := e.entries.List(cmd.Context(), sqlite.EntryFilter{
				Status:     domain.EntryStatus(status),
				TimeCodeID: timeCode,
				WorkTypeID: workType,
				From:       fromDate,
				To:         toDate,
				Limit:      limit,
				Offset:     offset,
			})
			if err != nil {
				return err
			}
			if asJSON {
				views := make([]entryView, 0, len(recs))
				for _, r := range recs {
					views = append(views, newEntryView(r))
				}
				return writeJSON(cmd.OutOrStdout(), views)
			}
			return writeEntryTable(cmd.OutOrStdout(), recs)
		}),
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, parsed, needs_review, failed)")
	cmd.Flags().StringVar(&timeCode, "time-code", "", "filter by time code id")
	cmd.Flags().StringVar(&workType, "work-type", "", "filter by work type id")
	cmd.Flags().StringVar(&from, "from", "", "first entry date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last entry date YYYY-MM-DD")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func (c *cli) entryShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one entry",
		Args:  cobra.ExactArgs(1),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			rec, err := e.entries.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), newEntryView(rec))
			}
			return writeEntryDetail(cmd.OutOrStdout(), rec)
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func (c *cli) entryEditCmd() *cobra.Command {
	var (
		text, timeCode, workType, description, date, status string
		duration                                            int
		lock, unlock                                        bool
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Correct an entry; corrections with a time code become context rules",
		Example: `  tact entry edit 5f1c... --time-code PROJ-001 --duration 120
  tact entry edit 5f1c... --work-type "" --lock`,
		Args: cobra.ExactArgs(1),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			if lock && unlock {
				return fmt.Errorf("--lock and --unlock are mutually exclusive")
			}
			flags := cmd.Flags()
			var upd entries.EntryUpdate
			if flags.Changed("text") {
				upd.UserInput = &text
			}
			if flags.Changed("duration") {
				upd.DurationMinutes = &duration
			}
			if flags.Changed("time-code") {
				upd.TimeCodeID = &timeCode
			}
			if flags.Changed("work-type") {
				upd.WorkTypeID = &workType
			}
			if flags.Changed("description") {
				upd.Description = &description
			}
			if flags.Changed("date") {
				d, err := parseDate(date)
				if err != nil {
					return err
				}
				upd.EntryDate = d
			}
			if flags.Changed("status") {
				s := domain.EntryStatus(status)
				upd.Status = &s
			}
			if lock || unlock {
				locked := lock
				upd.Locked = &locked
			}

			rec, err := e.entries.Update(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			return writeEntryDetail(cmd.OutOrStdout(), rec)
		}),
	}
	f := cmd.Flags()
	f.StringVar(&text, "text", "", "replace the entry text")
	f.IntVar(&duration, "duration", 0, "duration in minutes")
	f.StringVar(&timeCode, "time-code", "", "time code id (empty clears)")
	f.StringVar(&workType, "work-type", "", "work type id (empty clears)")
	f.StringVar(&description, "description", "", "description (empty clears)")
	f.StringVar(&date, "date", "", "entry date YYYY-MM-DD")
	f.StringVar(&status, "status", "", "set status")
	f.BoolVar(&lock, "lock", false, "lock the entry against edits")
	f.BoolVar(&unlock, "unlock", false, "unlock the entry")
	return cmd
}

func (c *cli) entryReparseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reparse <id>",
		Short: "Clear parsed fields and queue the entry again",
		Long:  "Clear parsed fields and queue the entry again. Locked entries are reparsed too and stay locked.",
		Args:  cobra.ExactArgs(1),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			rec, err := e.entries.Reparse(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rec.ID, rec.Status)
			return nil
		}),
	}
}

func (c *cli) entryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			if err := e.entries.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}
}
