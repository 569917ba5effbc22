package capture

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

func openLive(opts Options) (Handle, error) {
	if opts.Interface == "" {
		return nil, fmt.Errorf("pcap capture requires an interface")
	}
	inactive, err := pcap.NewInactiveHandle(opts.Interface)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", opts.Interface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(opts.SnapLen); err != nil {
		return nil, fmt.Errorf("set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(opts.Promisc); err != nil {
		return nil, fmt.Errorf("set promisc: %w", err)
	}
	if err := inactive.SetTimeout(opts.Timeout); err != nil {
		return nil, fmt.Errorf("set timeout: %w", err)
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, fmt.Errorf("set immediate mode: %w", err)
	}
	if err := inactive.SetBufferSize(opts.BufferSizeMB * 1024 * 1024); err != nil {
		return nil, fmt.Errorf("set buffer size: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("capture init failed on %s: %w", opts.Interface, err)
	}
	if err := handle.SetBPFFilter(opts.Filter()); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to apply BPF filter %q: %w", opts.Filter(), err)
	}
	return handle, nil
}

func openFile(opts Options) (Handle, error) {
	if opts.FilePath == "" {
		return nil, fmt.Errorf("file_path is required")
	}
	handle, err := pcap.OpenOffline(opts.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", opts.FilePath, err)
	}
	if err := handle.SetBPFFilter(opts.Filter()); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to apply BPF filter %q: %w", opts.Filter(), err)
	}
	return handle, nil
}
