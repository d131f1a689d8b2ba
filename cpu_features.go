package gudasum

import (
	"strings"

	"golang.org/x/sys/cpu"
)

// CPUFeatures tracks available CPU instruction set extensions
type CPUFeatures struct {
	HasSSE4     bool
	HasAVX      bool
	HasAVX2     bool
	HasFMA      bool
	HasAVX512F  bool // Foundation
	HasAVX512DQ bool // Double/Quad precision
	HasNEON     bool // arm64 Advanced SIMD
	HasFP16     bool // arm64 half precision arithmetic
	HasSVE      bool
}

// Global CPU feature detection
var cpuFeatures = detectCPUFeatures()

// detectCPUFeatures reads the flags x/sys/cpu populated at init. Fields for
// other architectures are always false.
func detectCPUFeatures() CPUFeatures {
	return CPUFeatures{
		HasSSE4:     cpu.X86.HasSSE41 || cpu.X86.HasSSE42,
		HasAVX:      cpu.X86.HasAVX,
		HasAVX2:     cpu.X86.HasAVX2,
		HasFMA:      cpu.X86.HasFMA,
		HasAVX512F:  cpu.X86.HasAVX512F,
		HasAVX512DQ: cpu.X86.HasAVX512DQ,
		HasNEON:     cpu.ARM64.HasASIMD,
		HasFP16:     cpu.ARM64.HasFPHP && cpu.ARM64.HasASIMDHP,
		HasSVE:      cpu.ARM64.HasSVE,
	}
}

// GetCPUFeatures returns the detected features
func GetCPUFeatures() CPUFeatures {
	return cpuFeatures
}

// names lists the supported extensions in a fixed order
func (f CPUFeatures) names() []string {
	var features []string
	add := func(ok bool, name string) {
		if ok {
			features = append(features, name)
		}
	}
	add(f.HasSSE4, "SSE4")
	add(f.HasAVX, "AVX")
	add(f.HasAVX2, "AVX2")
	add(f.HasFMA, "FMA")
	add(f.HasAVX512F, "AVX512F")
	add(f.HasAVX512DQ, "AVX512DQ")
	add(f.HasNEON, "NEON")
	add(f.HasFP16, "FP16")
	add(f.HasSVE, "SVE")
	return features
}

// String describes the extensions, e.g. "CPU features: SSE4, AVX, AVX2"
func (f CPUFeatures) String() string {
	features := f.names()
	if len(features) == 0 {
		return "No SIMD extensions detected"
	}
	return "CPU features: " + strings.Join(features, ", ")
}

// GetCPUInfo returns a string describing available CPU features
func GetCPUInfo() string {
	return cpuFeatures.String()
}
