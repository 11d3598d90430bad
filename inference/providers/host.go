// Package providers - Host CPU capabilities reported at start-up.
package providers

import (
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/cpu"
)

// HostInfo describes the machine the runtime is loaded on.
type HostInfo struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"num_cpu"`
	HasAVX2   bool   `json:"has_avx2"`
	HasAVX512 bool   `json:"has_avx512"`
	HasSSE41  bool   `json:"has_sse41"`
	HasNEON   bool   `json:"has_neon"`
}

// DetectHost reads the CPU feature flags.
func DetectHost() HostInfo {
	return HostInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
		HasAVX2:   cpu.X86.HasAVX2,
		HasAVX512: cpu.X86.HasAVX512F,
		HasSSE41:  cpu.X86.HasSSE41,
		HasNEON:   cpu.ARM64.HasASIMD,
	}
}

// Fields renders the host info as log fields.
func (h HostInfo) Fields() logrus.Fields {
	return logrus.Fields{
		"os":     h.OS,
		"arch":   h.Arch,
		"cpus":   h.NumCPU,
		"avx2":   h.HasAVX2,
		"avx512": h.HasAVX512,
		"sse41":  h.HasSSE41,
		"neon":   h.HasNEON,
	}
}
