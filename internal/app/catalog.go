package app

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tact/internal/domain"
)

func (c *cli) catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Maintain projects, time codes and work types",
	}
	cmd.AddCommand(c.projectCmd(), c.timeCodeCmd(), c.workTypeCmd())
	return cmd
}

func (c *cli) projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Projects"}

	var inactive bool
	set := &cobra.Command{
		Use:   "set <id> <name...>",
		Short: "Create or update a project",
		Args:  cobra.MinimumNArgs(2),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			p := domain.Project{ID: args[0], Name: strings.Join(args[1:], " "), Active: !inactive}
			if err := e.store.UpsertProject(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project %s saved\n", p.ID)
			return nil
		}),
	}
	set.Flags().BoolVar(&inactive, "inactive", false, "mark inactive")

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			projects, err := e.store.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tACTIVE")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%t\n", p.ID, p.Name, p.Active)
			}
			return tw.Flush()
		}),
	}

	cmd.AddCommand(set, list)
	return cmd
}

func (c *cli) timeCodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "time-code", Short: "Time codes"}

	var (
		project, description string
		keywords             []string
		inactive             bool
	)
	set := &cobra.Command{
		Use:     "set <id> <name...>",
		Short:   "Create or update a time code",
		Example: `  tact catalog time-code set PROJ-001 Alpha development --project alpha --keywords alpha,frontend`,
		Args:    cobra.MinimumNArgs(2),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			if project != "" {
				if _, err := e.store.GetProject(cmd.Context(), project); err != nil {
					return err
				}
			}
			tc := domain.TimeCode{
				ID:          args[0],
				ProjectID:   project,
				Name:        strings.Join(args[1:], " "),
				Description: description,
				Keywords:    keywords,
				Active:      !inactive,
			}
			if err := e.store.UpsertTimeCode(cmd.Context(), tc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "time code %s saved\n", tc.ID)
			return nil
		}),
	}
	set.Flags().StringVar(&project, "project", "", "owning project id")
	set.Flags().StringVar(&description, "description", "", "description shown to the parser")
	set.Flags().StringSliceVar(&keywords, "keywords", nil, "comma separated keywords")
	set.Flags().BoolVar(&inactive, "inactive", false, "mark inactive")

	list := &cobra.Command{
		Use:   "list",
		Short: "List time codes",
		Args:  cobra.NoArgs,
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			codes, err := e.store.ListTimeCodes(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROJECT\tNAME\tACTIVE\tKEYWORDS")
			for _, tc := range codes {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", tc.ID, orDash(tc.ProjectID), tc.Name, tc.Active, strings.Join(tc.Keywords, ","))
			}
			return tw.Flush()
		}),
	}

	cmd.AddCommand(set, list)
	return cmd
}

func (c *cli) workTypeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "work-type", Short: "Work types"}

	var (
		description string
		inactive    bool
	)
	set := &cobra.Command{
		Use:   "set <id> <name...>",
		Short: "Create or update a work type",
		Args:  cobra.MinimumNArgs(2),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			wt := domain.WorkType{
				ID:          args[0],
				Name:        strings.Join(args[1:], " "),
				Description: description,
				Active:      !inactive,
			}
			if err := e.store.UpsertWorkType(cmd.Context(), wt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "work type %s saved\n", wt.ID)
			return nil
		}),
	}
	set.Flags().StringVar(&description, "description", "", "description shown to the parser")
	set.Flags().BoolVar(&inactive, "inactive", false, "mark inactive")

	list := &cobra.Command{
		Use:   "list",
		Short: "List work types",
		Args:  cobra.NoArgs,
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			types, err := e.store.ListWorkTypes(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tACTIVE")
			for _, wt := range types {
				fmt.Fprintf(tw, "%s\t%s\t%t\n", wt.ID, wt.Name, wt.Active)
			}
			return tw.Flush()
		}),
	}

	cmd.AddCommand(set, list)
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
