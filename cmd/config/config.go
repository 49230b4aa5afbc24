package config

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/rtcore/internal/conf"
	"github.com/tphakala/rtcore/internal/logger"
)

// Command creates the config command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and write configuration",
	}

	cmd.AddCommand(dumpCommand(settings), saveCommand(settings))

	return cmd
}

func dumpCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as YAML",
		Long: "Prints the configuration after defaults, the config file, RTCORE_ environment variables and flags are applied. " +
			"Credentials in the telemetry DSN are redacted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := *settings
			out.Telemetry.DSN = logger.RedactSensitiveData(out.Telemetry.DSN)
			data, err := conf.Marshal(&out)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func saveCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "save <path>",
		Short: "Write the effective configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.Save(settings, args[0]); err != nil {
				return err
			}
			cmd.Printf("configuration written to %s\n", args[0])
			return nil
		},
	}
}
