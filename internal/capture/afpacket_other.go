//go:build !linux

package capture

import (
	"fmt"

	"firestige.xyz/shredrelay/internal/core"
)

func openAFPacket(Options) (Handle, error) {
	return nil, fmt.Errorf("%w: afpacket is only available on linux", core.ErrUnsupportedCapture)
}

func isAFPacketTransient(error) bool { return false }
