// Package capture opens the packet capture device used by the sniffer.
package capture

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/shredrelay/internal/core"
	"firestige.xyz/shredrelay/internal/log"
)

// Capture types.
const (
	TypePcap     = "pcap"
	TypeAFPacket = "afpacket"
	TypeFile     = "file"
)

const (
	DefaultSnapLen      = 65535
	DefaultTimeout      = 100 * time.Millisecond
	DefaultBufferSizeMB = 64

	ipv4HeaderLen = 20
	udpHeaderLen  = 8
)

// Handle is an opened capture device. ReadPacketData blocks until a frame
// arrives, the read times out, or the device fails.
type Handle interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close()
}

// Options selects and tunes the capture device.
type Options struct {
	Type         string
	Interface    string
	FilePath     string
	Protocol     string
	Port         int
	SnapLen      int
	Timeout      time.Duration
	BufferSizeMB int
	Promisc      bool
}

// Filter returns the BPF expression matching sniffed shreds.
func (o Options) Filter() string {
	proto := strings.ToLower(o.Protocol)
	if proto == "" {
		proto = "udp"
	}
	return fmt.Sprintf("%s dst port %d", proto, o.Port)
}

func (o Options) withDefaults() Options {
	if o.SnapLen <= 0 {
		o.SnapLen = DefaultSnapLen
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.BufferSizeMB <= 0 {
		o.BufferSizeMB = DefaultBufferSizeMB
	}
	if o.Type == "" {
		o.Type = TypePcap
	}
	return o
}

// Open opens the device described by opts with the shred filter applied.
func Open(opts Options) (Handle, error) {
	opts = opts.withDefaults()
	logger := log.GetLogger().WithFields(map[string]interface{}{
		core.FieldCaptureType: opts.Type,
		core.FieldInterface:   opts.Interface,
	})

	var (
		h   Handle
		err error
	)
	switch opts.Type {
	case TypePcap:
		h, err = openLive(opts)
	case TypeAFPacket:
		h, err = openAFPacket(opts)
	case TypeFile:
		h, err = openFile(opts)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedCapture, opts.Type)
	}
	if err != nil {
		return nil, err
	}
	logger.WithField("filter", opts.Filter()).WithField(core.FieldLinkType, h.LinkType().String()).Info("capture device opened")
	return h, nil
}

// HeaderOffset returns the number of bytes preceding the UDP payload for
// frames of the given link type.
func HeaderOffset(lt layers.LinkType) int {
	var linkLen int
	switch lt {
	case layers.LinkTypeEthernet:
		linkLen = 14
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		linkLen = 4
	default:
		log.GetLogger().WithField(core.FieldLinkType, lt.String()).Warn("unknown link type, assuming 4-byte header")
		linkLen = 4
	}
	return linkLen + ipv4HeaderLen + udpHeaderLen
}

// IsTransient reports whether err only means that no frame was available.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, pcap.NextErrorTimeoutExpired),
		errors.Is(err, pcap.NextErrorNoMorePackets),
		errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EINTR):
		return true
	}
	return isAFPacketTransient(err)
}
