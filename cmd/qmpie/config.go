package main

import (
	"fmt"
	"os"

	"qmpie/internal/config"

	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or scaffold the qmpie configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets hidden",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Render(a.cfg, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	show.Flags().StringVar(&format, "format", "json", "output format: json or toml")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write ./.qmpie/config.json with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			path, created, err := config.InitProjectConfigScaffold(wd)
			if err != nil {
				return err
			}
			if created {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
			} else {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "kept existing %s\n", path)
			}
			return err
		},
	}

	setModel := &cobra.Command{
		Use:   "set-model <model>",
		Short: "Set provider.model in the project configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			if err := config.WriteProviderModel(wd, args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "model set to %s in %s\n", args[0], config.ProjectConfigPath(wd))
			return err
		},
	}

	cmd.AddCommand(show, initCmd, setModel)
	return cmd
}
