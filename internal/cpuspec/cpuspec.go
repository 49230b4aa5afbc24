// Package cpuspec describes the host CPU for the info command and for
// sizing the processing threads.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	Vendor           string
	PhysicalCores    int
	LogicalCores     int
	ThreadsPerCore   int
	PerformanceCores int // 0 when the CPU is not a known hybrid design
	CacheLine        int
	L1DataCache      int // bytes, -1 when unknown
	L2Cache          int // bytes, -1 when unknown
	SIMD             []string
}

// simdFeatures are reported in this order when supported.
var simdFeatures = []struct {
	id   cpuid.FeatureID
	name string
}{
	{cpuid.SSE2, "sse2"},
	{cpuid.SSE4, "sse4.1"},
	{cpuid.AVX, "avx"},
	{cpuid.AVX2, "avx2"},
	{cpuid.FMA3, "fma3"},
	{cpuid.AVX512F, "avx512f"},
	{cpuid.ASIMD, "neon"},
}

// GetCPUSpec returns the specification of the running CPU
func GetCPUSpec() CPUSpec {
	c := cpuid.CPU
	spec := CPUSpec{
		BrandName:        c.BrandName,
		Vendor:           c.VendorString,
		PhysicalCores:    c.PhysicalCores,
		LogicalCores:     c.LogicalCores,
		ThreadsPerCore:   c.ThreadsPerCore,
		PerformanceCores: determinePerformanceCores(c.BrandName),
		CacheLine:        c.CacheLine,
		L1DataCache:      c.Cache.L1D,
		L2Cache:          c.Cache.L2,
	}
	for _, f := range simdFeatures {
		if c.Supports(f.id) {
			spec.SIMD = append(spec.SIMD, f.name)
		}
	}
	return spec
}

// ProcessingThreads returns how many processing loops can each own a core:
// the performance cores on hybrid CPUs, otherwise the physical cores, minus
// one core left for control goroutines. Never less than one.
func (c CPUSpec) ProcessingThreads() int {
	available := runtime.NumCPU()

	cores := c.PerformanceCores
	if cores == 0 {
		cores = c.PhysicalCores
	}
	if cores <= 0 || cores > available {
		cores = available
	}
	return max(cores-1, 1)
}

// Hybrid reports whether the CPU mixes performance and efficiency cores.
func (c CPUSpec) Hybrid() bool {
	return c.PerformanceCores > 0 && c.PerformanceCores < c.PhysicalCores
}

var (
	intelCoreRegex  = regexp.MustCompile(`intel.*(?:core.*i[3579]-(\d{3})\d{2}|core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3}))`)
	appleRegex      = regexp.MustCompile(`apple\s+(m[1-4](?:\s+(?:pro|max|ultra))?)`)
	intelCoreIModel = regexp.MustCompile(`i[3579]-(\d{5})`)
)

// intelCoreI maps 12th to 14th gen model numbers to P-core counts.
var intelCoreI = map[string]int{
	"12900": 8, "12700": 8, "12600": 6, "12400": 6, "12100": 4,
	"13900": 8, "13700": 8, "13600": 6, "13500": 6, "13400": 6, "13100": 4,
	"14900": 8, "14700": 8, "14600": 6, "14400": 6, "14100": 4,
}

// intelCoreUltra maps "series model" to P-core counts.
var intelCoreUltra = map[string]int{
	"9 285": 8,
	"7 265": 8, "7 255": 8,
	"5 235": 6, "5 225": 4,
}

// appleSilicon maps chip names to performance core counts; Pro variants
// use the larger binning.
var appleSilicon = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 8, "m3 max": 12, "m3 ultra": 24,
	"m4": 6, "m4 pro": 8, "m4 max": 12,
}

func determinePerformanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)

	if m := intelCoreRegex.FindStringSubmatch(brandName); m != nil {
		if m[2] != "" {
			return intelCoreUltra[m[2]+" "+m[3]]
		}
		if mm := intelCoreIModel.FindStringSubmatch(brandName); mm != nil {
			return intelCoreI[mm[1]]
		}
	}
	if m := appleRegex.FindStringSubmatch(brandName); m != nil {
		return appleSilicon[strings.Join(strings.Fields(m[1]), " ")]
	}
	return 0
}
