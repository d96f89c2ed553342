//go:build linux

package gpu

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

const gib = 1024 * 1024 * 1024

// hostDetails fills the kernel release from uname(2) and total memory from
// sysinfo(2). Failures leave the fields empty.
func hostDetails(info *SystemInfo) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		slog.Debug("uname failed", slog.String("error", err.Error()))
	} else {
		info.KernelRelease = unix.ByteSliceToString(uts.Release[:])
	}

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		slog.Debug("sysinfo failed", slog.String("error", err.Error()))
		return
	}
	total := uint64(si.Totalram) * uint64(si.Unit)
	info.RAMGiB = float64(total) / gib
}
