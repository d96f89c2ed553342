package gpu

import (
	"context"
	"fmt"
	"runtime"
)

// SystemInfo describes the host running the check.
type SystemInfo struct {
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	KernelRelease string `json:"kernelRelease,omitempty"`
	GoVersion     string `json:"goVersion"`

	// RAMGiB is zero when the total memory could not be determined.
	RAMGiB float64 `json:"ramGiB,omitempty"`
}

// Platform formats the OS, architecture and kernel release, e.g.
// "linux/amd64 (kernel 6.1.0-1019-aws)".
func (s SystemInfo) Platform() string {
	p := s.OS + "/" + s.Arch
	if s.KernelRelease != "" {
		p += " (kernel " + s.KernelRelease + ")"
	}
	return p
}

// RAM formats the total memory for display.
func (s SystemInfo) RAM() string {
	if s.RAMGiB <= 0 {
		return "Unable to determine on this platform"
	}
	return fmt.Sprintf("%.1f GiB", s.RAMGiB)
}

// CollectSystem gathers host information. Kernel release and memory are
// only available on Linux; elsewhere they are left empty.
func CollectSystem(ctx context.Context) (SystemInfo, error) {
	if err := ctx.Err(); err != nil {
		return SystemInfo{}, err
	}

	info := SystemInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
	}
	hostDetails(&info)
	return info, nil
}
