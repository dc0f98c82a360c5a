package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/neboloop/intentcore/internal/defaults"
)

// ConfigCmd shows or installs the configuration.
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise configuration",
	}

	var embedded bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if embedded {
				data, err := defaults.GetDefault("config.yaml")
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", configPath(cfg), out)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&embedded, "default", false, "print the built-in default config.yaml instead")
	cmd.AddCommand(showCmd)

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config.yaml into the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := defaults.EnsureDataDir()
			if err != nil {
				return err
			}
			if force {
				if err := defaults.Install(dir, true); err != nil {
					return err
				}
			}
			files, err := defaults.ListDefaults()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Defaults installed in %s\n", dir)
			for _, f := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", f)
			}
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	cmd.AddCommand(initCmd)

	return cmd
}
