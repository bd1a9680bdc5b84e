package analytics

import (
	"context"
	"strings"

	"analyticsbridge/internal/sysmon"
)

// Published CLI build architectures.
const (
	ArchAarch64 = "aarch64"
	ArchX8664   = "x86_64"
)

// ResolvePlatformArch maps the host to a published CLI build. Only Linux on
// aarch64 or x86_64 is supported.
func (g *Gateway) ResolvePlatformArch(ctx context.Context) (string, error) {
	p, err := g.platform(ctx)
	if err != nil {
		return "", err
	}
	return archFor(p)
}

func archFor(p sysmon.Platform) (string, error) {
	if p.Linux() {
		arch := strings.ToLower(p.Arch)
		switch {
		case strings.Contains(arch, ArchAarch64):
			return ArchAarch64, nil
		case strings.Contains(arch, ArchX8664):
			return ArchX8664, nil
		}
	}
	return "", &UnsupportedPlatformError{OS: p.OS, Arch: p.Arch, WordSize: p.WordSize}
}
