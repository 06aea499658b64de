package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tact/internal/storage/sqlite"
	"tact/internal/worker"
)

func (c *cli) contextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Manage context rules that steer categorization",
	}
	cmd.AddCommand(
		c.contextAddCmd(),
		c.contextListCmd(),
		c.contextEditCmd(),
		c.contextDeleteCmd(),
		c.contextBackfillCmd(),
	)
	return cmd
}

func (c *cli) contextAddCmd() *cobra.Command {
	var project, timeCode string
	cmd := &cobra.Command{
		Use:     "add <content...>",
		Short:   "Add a rule to a project or a time code",
		Example: `  tact context add --time-code PROJ-001 "standups and sprint planning for alpha"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			rule, err := e.entries.AddRule(cmd.Context(), project, timeCode, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s embedded=%t\n", rule.ID, rule.Source(), rule.Embedding != nil)
			return nil
		}),
	}
	cmd.Flags().StringVar(&project, "project", "", "owning project id")
	cmd.Flags().StringVar(&timeCode, "time-code", "", "owning time code id")
	cmd.MarkFlagsMutuallyExclusive("project", "time-code")
	cmd.MarkFlagsOneRequired("project", "time-code")
	return cmd
}

func (c *cli) contextListCmd() *cobra.Command {
	var (
		project, timeCode string
		asJSON            bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules, optionally for one owner",
		Args:  cobra.NoArgs,
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			rules, err := e.entries.ListRules(cmd.Context(), sqlite.ContextRuleFilter{ProjectID: project, TimeCodeID: timeCode})
			if err != nil {
				return err
			}
			if asJSON {
				views := make([]ruleView, 0, len(rules))
				for _, r := range rules {
					views = append(views, newRuleView(r))
				}
				return writeJSON(cmd.OutOrStdout(), views)
			}
			return writeRuleTable(cmd.OutOrStdout(), rules)
		}),
	}
	cmd.Flags().StringVar(&project, "project", "", "only rules of this project")
	cmd.Flags().StringVar(&timeCode, "time-code", "", "only rules of this time code")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.MarkFlagsMutuallyExclusive("project", "time-code")
	return cmd
}

func (c *cli) contextEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <content...>",
		Short: "Replace a rule's content and re-embed it",
		Args:  cobra.MinimumNArgs(2),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			rule, err := e.entries.UpdateRule(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s embedded=%t\n", rule.ID, rule.Source(), rule.Embedding != nil)
			return nil
		}),
	}
}

func (c *cli) contextDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			if err := e.entries.DeleteRule(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}
}

func (c *cli) contextBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Embed rules that were stored without a vector",
		Args:  cobra.NoArgs,
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			n, err := worker.BackfillEmbeddings(cmd.Context(), e.store, e.engine)
			fmt.Fprintf(cmd.OutOrStdout(), "embedded %d rules\n", n)
			return err
		}),
	}
}
