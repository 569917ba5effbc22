package core

import "errors"

var (
	// Packet normalization errors
	ErrPacketTooShort = errors.New("shredrelay: packet too short")
	ErrLegacyShred    = errors.New("shredrelay: legacy shred marker")
	ErrUnknownVariant = errors.New("shredrelay: unknown shred variant")
	ErrInvalidShred   = errors.New("shredrelay: invalid shred header")

	// Capture errors
	ErrUnsupportedCapture = errors.New("shredrelay: unsupported capture type")

	// Configuration errors
	ErrConfigInvalid  = errors.New("shredrelay: invalid configuration")
	ErrNoDestinations = errors.New("shredrelay: no forward destinations")
)
