//go:build !linux

package netio

import (
	"fmt"
	"log/slog"
	"runtime"
)

// NewAFPacket is unavailable outside Linux; AF_PACKET raw sockets are a
// Linux-specific facility. Use the loopback queue on other platforms.
func NewAFPacket(ifName string, logger *slog.Logger) (*AFPacket, error) {
	return nil, fmt.Errorf("netio: AF_PACKET is not available on %s", runtime.GOOS)
}

// AFPacket is an unused placeholder type on non-Linux platforms, kept so
// the package's exported surface is stable across build targets.
type AFPacket struct{}
