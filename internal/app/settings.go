package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tact/internal/parser"
)

// settingValidators guard keys the parser reads at apply time.
var settingValidators = map[string]func(string) error{
	parser.ConfidenceThresholdKey: func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("%s must be a number between 0 and 1", parser.ConfidenceThresholdKey)
		}
		return nil
	},
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write runtime settings stored in the database",
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			v, ok, err := e.store.GetSetting(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("setting %q is not set", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		}),
	}

	set := &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Store a setting",
		Example: `  tact config set confidence_threshold 0.8`,
		Args:    cobra.ExactArgs(2),
		RunE: c.withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			key, value := args[0], strings.TrimSpace(args[1])
			if validate, ok := settingValidators[key]; ok {
				if err := validate(value); err != nil {
					return err
				}
			}
			if err := e.store.SetSetting(cmd.Context(), key, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", key, value)
			return nil
		}),
	}

	cmd.AddCommand(get, set)
	return cmd
}
