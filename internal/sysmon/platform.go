package sysmon

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/host"
)

// Platform describes the host the analytics CLI would run on.
type Platform struct {
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	WordSize int    `json:"word_size"`
}

// Linux reports whether the host OS is Linux.
func (p Platform) Linux() bool {
	return strings.EqualFold(strings.TrimSpace(p.OS), "linux")
}

// Detect reads OS and kernel architecture from the host. WordSize is the size
// of a native int in bytes.
func Detect(ctx context.Context) (Platform, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Platform{}, errors.Wrap(err, "read host info")
	}
	arch := info.KernelArch
	if arch == "" {
		// Older kernels do not expose the arch through host info.
		if a, archErr := host.KernelArch(); archErr == nil {
			arch = a
		}
	}
	return Platform{
		OS:       displayOS(info.OS),
		Arch:     arch,
		WordSize: strconv.IntSize / 8,
	}, nil
}

func displayOS(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows"
	case "freebsd":
		return "FreeBSD"
	default:
		return raw
	}
}
