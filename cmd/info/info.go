package info

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/tphakala/rtcore/internal/buildinfo"
	"github.com/tphakala/rtcore/internal/cpuspec"
)

// Report is the system description printed by the info command.
type Report struct {
	Version   string
	BuildDate string
	GoVersion string

	OS       string
	Platform string
	Kernel   string

	CPU cpuspec.CPUSpec

	MemoryTotal     uint64
	MemoryAvailable uint64
}

// Command creates a command that prints build, CPU and memory information.
func Command(build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print build and system information",
		Long:  "Prints the build version, the CPU features relevant to the processing thread and system memory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Render(cmd.OutOrStdout(), Collect(build))
		},
	}

	return cmd
}

// Collect gathers the report. Fields the platform cannot provide stay empty.
func Collect(build *buildinfo.Context) Report {
	r := Report{
		Version:   build.Version(),
		BuildDate: build.BuildDate(),
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		CPU:       cpuspec.GetCPUSpec(),
	}

	if hostInfo, err := host.Info(); err == nil {
		r.Platform = strings.TrimSpace(hostInfo.Platform + " " + hostInfo.PlatformVersion)
		r.Kernel = hostInfo.KernelVersion
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		r.MemoryTotal = memInfo.Total
		r.MemoryAvailable = memInfo.Available
	}
	return r
}

// Render writes r as aligned key/value lines.
func Render(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(key string, value any) {
		fmt.Fprintf(tw, "%s:\t%v\n", key, value)
	}

	row("Version", r.Version)
	row("Build date", r.BuildDate)
	row("Go", r.GoVersion)
	row("OS", r.OS)
	if r.Platform != "" {
		row("Platform", r.Platform)
	}
	if r.Kernel != "" {
		row("Kernel", r.Kernel)
	}

	row("CPU", r.CPU.BrandName)
	row("Cores", fmt.Sprintf("%d physical, %d logical", r.CPU.PhysicalCores, r.CPU.LogicalCores))
	if r.CPU.Hybrid() {
		row("Performance cores", r.CPU.PerformanceCores)
	}
	row("Cache line", fmt.Sprintf("%d bytes", r.CPU.CacheLine))
	if len(r.CPU.SIMD) > 0 {
		row("SIMD", strings.Join(r.CPU.SIMD, " "))
	}
	row("Processing threads", r.CPU.ProcessingThreads())

	if r.MemoryTotal > 0 {
		row("Memory", fmt.Sprintf("%s total, %s available", formatBytes(r.MemoryTotal), formatBytes(r.MemoryAvailable)))
	}
	return tw.Flush()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
