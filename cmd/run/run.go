package run

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/rtcore/internal/app"
	"github.com/tphakala/rtcore/internal/buildinfo"
	"github.com/tphakala/rtcore/internal/conf"
)

// Command creates the command that runs the host on its interval driver.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the processing host on a software timer",
		Long: "Run the processing host with its own interval driver. Ports are chained, " +
			"an optional WAV file is replayed into the first port, and metrics are " +
			"served when enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings, build)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags defines the run flags and marks the settings keys they override.
func setupFlags(cmd *cobra.Command) error {
	defaults := conf.Default()
	flags := cmd.Flags()
	flags.Int("ports", defaults.Port.Count, "Number of chained audio ports")
	flags.Int("midiports", defaults.Port.MIDICount, "Number of chained MIDI ports")
	flags.String("wav", defaults.Port.WAV, "WAV file replayed into the first port")
	flags.Bool("loop", defaults.Port.Loop, "Loop the WAV file")
	flags.Duration("interval", defaults.Host.ProcessInterval, "Wait between processing cycles")
	flags.Int("frames", defaults.Host.FramesPerIteration, "Frames processed per cycle")
	flags.Bool("metrics", defaults.Metrics.Enabled, "Serve Prometheus metrics")
	flags.String("listen", defaults.Metrics.Listen, "Listen address of the metrics endpoint")

	bindings := map[string]string{
		"port.count":              "ports",
		"port.midicount":          "midiports",
		"port.wav":                "wav",
		"port.loop":               "loop",
		"host.processinterval":    "interval",
		"host.framesperiteration": "frames",
		"metrics.enabled":         "metrics",
		"metrics.listen":          "listen",
	}
	for key, name := range bindings {
		if err := conf.MarkSetting(flags, name, key); err != nil {
			return err
		}
	}
	return nil
}
