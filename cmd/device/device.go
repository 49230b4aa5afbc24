package device

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/rtcore/internal/app"
	"github.com/tphakala/rtcore/internal/audiodevice"
	"github.com/tphakala/rtcore/internal/buildinfo"
	"github.com/tphakala/rtcore/internal/conf"
	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

// Command creates the command that drives the host from a sound card.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Run the processing host from a playback device",
		Long: "Open a playback device and let its callback drive the processing host. " +
			"The output of the last port is played on every device channel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				return listDevices(cmd.OutOrStdout(), settings.Device.Backend)
			}
			return runDevice(cmd, settings, build)
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List playback devices and exit")
	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func runDevice(cmd *cobra.Command, settings *conf.Settings, build *buildinfo.Context) error {
	if settings.Port.Count == 0 {
		return errors.New(audiodevice.ErrInvalidConfig).
			Context("reason", "device mode needs at least one audio port").
			Build()
	}

	a, err := app.New(settings, build, app.WithHardwareOutput())
	if err != nil {
		return err
	}
	defer a.Close()

	driver, err := audiodevice.New(audiodevice.Config{
		Backend:      settings.Device.Backend,
		DeviceName:   settings.Device.Name,
		SampleRate:   settings.Device.SampleRate,
		Channels:     settings.Device.Channels,
		PeriodFrames: settings.Device.PeriodFrames,
	}, a.Host(), a.Output(), audiodevice.WithLogger(a.Logger()))
	if err != nil {
		return err
	}
	if err := driver.Open(); err != nil {
		return err
	}
	defer func() {
		st := driver.Stats()
		a.Logger().Info("device statistics",
			logger.Uint64("callbacks", st.Callbacks),
			logger.Uint64("frames", st.Frames),
			logger.Uint64("underflows", st.Underflows),
			logger.Uint64("unexpected_stops", st.Stops))
		if err := driver.Close(); err != nil {
			a.Logger().Warn("closing device failed", logger.Error(err))
		}
	}()

	a.AttachDevice(driver)
	return a.Run(cmd.Context())
}

func listDevices(w io.Writer, backend string) error {
	devices, err := audiodevice.Devices(backend)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tDEFAULT\tNAME")
	for _, d := range devices {
		def := ""
		if d.IsDefault {
			def = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", d.Index, def, d.Name)
	}
	return tw.Flush()
}

// setupFlags defines the device flags and marks the settings keys they override.
func setupFlags(cmd *cobra.Command) error {
	defaults := conf.Default()
	flags := cmd.Flags()
	flags.String("device", defaults.Device.Name, "Playback device name or substring, empty for the default device")
	flags.String("backend", defaults.Device.Backend, "Audio backend (alsa, pulse, jack, wasapi, coreaudio, null)")
	flags.Uint32("samplerate", defaults.Device.SampleRate, "Device sample rate")
	flags.Uint32("channels", defaults.Device.Channels, "Device channel count")
	flags.Uint32("period", defaults.Device.PeriodFrames, "Device period size in frames")
	flags.Int("ports", defaults.Port.Count, "Number of chained audio ports")
	flags.String("wav", defaults.Port.WAV, "WAV file replayed into the first port")

	bindings := map[string]string{
		"device.name":         "device",
		"device.backend":      "backend",
		"device.samplerate":   "samplerate",
		"device.channels":     "channels",
		"device.periodframes": "period",
		"port.count":          "ports",
		"port.wav":            "wav",
	}
	for key, name := range bindings {
		if err := conf.MarkSetting(flags, name, key); err != nil {
			return err
		}
	}
	return nil
}
