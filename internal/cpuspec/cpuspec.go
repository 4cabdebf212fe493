// Package cpuspec inspects the host CPU to size the inference interpreter.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec describes the host processor.
type CPUSpec struct {
	BrandName string `json:"brandName"`
	// PerformanceCores is zero when the brand is not a known hybrid design.
	PerformanceCores int      `json:"performanceCores,omitempty"`
	LogicalCores     int      `json:"logicalCores"`
	Features         []string `json:"features,omitempty"`
}

// simdFeatures are the instruction sets the XNNPACK delegate benefits from.
var simdFeatures = []struct {
	id   cpuid.FeatureID
	name string
}{
	{cpuid.SSE4, "sse4.1"},
	{cpuid.AVX, "avx"},
	{cpuid.AVX2, "avx2"},
	{cpuid.FMA3, "fma"},
	{cpuid.AVX512F, "avx512f"},
	{cpuid.ASIMD, "neon"},
}

// GetCPUSpec reads the processor brand and SIMD support.
func GetCPUSpec() CPUSpec {
	spec := CPUSpec{
		BrandName:        cpuid.CPU.BrandName,
		PerformanceCores: performanceCores(cpuid.CPU.BrandName),
		LogicalCores:     cpuid.CPU.LogicalCores,
	}
	for _, f := range simdFeatures {
		if cpuid.CPU.Supports(f.id) {
			spec.Features = append(spec.Features, f.name)
		}
	}
	return spec
}

// OptimalThreadCount returns the interpreter thread count: the performance
// cores on hybrid CPUs, otherwise every logical core, never more than the
// CPUs available to the process.
func (c CPUSpec) OptimalThreadCount() int {
	available := runtime.NumCPU()
	n := c.PerformanceCores
	if n <= 0 {
		n = c.LogicalCores
	}
	if n <= 0 || n > available {
		return available
	}
	return n
}

var (
	intelCorePattern  = regexp.MustCompile(`intel.*core.*i[3579]-(1[234]\d)\d\d`)
	intelUltraPattern = regexp.MustCompile(`intel.*core.*ultra\s+[579]\s+(?:processor\s+)?(\d{3})`)
	applePattern      = regexp.MustCompile(`apple\s+(m[1-4](?:\s*(?:pro|max|ultra))?)`)
)

// intelPCores maps a Core i model prefix (generation and tier) to its P-core count.
var intelPCores = map[string]int{
	"129": 8, "127": 8, "126": 6, "124": 6, "121": 4,
	"139": 8, "137": 8, "136": 6, "135": 6, "134": 6, "131": 4,
	"149": 8, "147": 8, "146": 6, "144": 6, "141": 4,
}

var ultraPCores = map[string]int{
	"285": 8, "265": 8, "255": 8, "235": 6, "225": 4,
}

// applePCores lists the larger configuration where a chip ships in two.
var applePCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 8, "m3 max": 12, "m3 ultra": 24,
	"m4": 6, "m4 pro": 8, "m4 max": 12,
}

func performanceCores(brand string) int {
	brand = strings.ToLower(brand)

	if m := intelCorePattern.FindStringSubmatch(brand); m != nil {
		return intelPCores[m[1]]
	}
	if m := intelUltraPattern.FindStringSubmatch(brand); m != nil {
		return ultraPCores[m[1]]
	}
	if m := applePattern.FindStringSubmatch(brand); m != nil {
		chip := strings.Join(strings.Fields(m[1]), " ")
		return applePCores[chip]
	}
	return 0
}
