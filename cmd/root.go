package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/rtcore/cmd/config"
	"github.com/tphakala/rtcore/cmd/device"
	"github.com/tphakala/rtcore/cmd/info"
	"github.com/tphakala/rtcore/cmd/run"
	"github.com/tphakala/rtcore/internal/buildinfo"
	"github.com/tphakala/rtcore/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	// Filled by PersistentPreRunE before any subcommand runs.
	settings := &conf.Settings{}
	loader := conf.NewLoader()
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "rtcore",
		Short:        "Real-time audio and MIDI processing host",
		Version:      build.Version(),
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, &configPath); err != nil {
		panic(err)
	}

	// Add sub-commands to the root command.
	runCmd := run.Command(settings, build)
	deviceCmd := device.Command(settings, build)
	infoCmd := info.Command(build)
	configCmd := config.Command(settings)

	rootCmd.AddCommand(runCmd, deviceCmd, infoCmd, configCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// info reports on the machine and needs no configuration
		if cmd.Name() == infoCmd.Name() {
			return nil
		}

		// Flags of the command being run override the file and environment.
		if err := loader.BindFlags(cmd.Flags()); err != nil {
			return err
		}
		loaded, err := loader.Load(configPath)
		if err != nil {
			return err
		}
		*settings = *loaded
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configPath *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configPath, "config", "c", "", "Config file (default: rtcore.yaml in ., the user config dir or /etc/rtcore)")
	flags.BoolP("debug", "d", false, "Enable debug output")

	return conf.MarkSetting(flags, "debug", "debug")
}
