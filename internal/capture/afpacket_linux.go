//go:build linux

package capture

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
)

type afpacketHandle struct {
	*afpacket.TPacket
}

func (h afpacketHandle) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func openAFPacket(opts Options) (Handle, error) {
	if opts.Interface == "" {
		return nil, fmt.Errorf("afpacket capture requires an interface")
	}
	frameSize, blockSize, numBlocks, err := recomputeSize(opts.BufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(opts.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.Timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create TPacket handle: %w", err)
	}

	raw, err := compileBPF(opts.Filter(), frameSize)
	if err != nil {
		tp.Close()
		return nil, err
	}
	if err := tp.SetBPF(raw); err != nil {
		tp.Close()
		return nil, fmt.Errorf("failed to set BPF: %w", err)
	}
	return afpacketHandle{tp}, nil
}

func isAFPacketTransient(err error) bool {
	return errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll)
}
