// Package shred classifies shred packets and derives the canonical byte range
// used for duplicate detection.
//
// Two rules exist and must not be mixed: Canonical is applied to datagrams
// from the relay, Parse to frames captured off the wire.
package shred

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/shredrelay/internal/core"
)

const (
	SignatureSize = 64

	// Common header: signature, variant, slot, index, version, fec_set_index.
	CommonHeaderSize = SignatureSize + 1 + 8 + 4 + 2 + 4 // 83
	DataHeaderSize   = 5                                 // parent_offset, flags, size
	CodeHeaderSize   = 6                                 // num_data, num_code, position

	// Full payload sizes as sent on the wire.
	CodePayloadSize       = 1228
	LegacyDataPayloadSize = 1228
	MerkleDataPayloadSize = 1203

	// Legacy single-byte markers for code and data shreds.
	LegacyCodeMarker byte = 0b0101_1010
	LegacyDataMarker byte = 0b1010_0101

	resignedSize = 64
)

// Kind distinguishes coding shreds from data shreds.
type Kind uint8

const (
	KindCode Kind = iota
	KindData
)

func (k Kind) String() string {
	if k == KindCode {
		return "code"
	}
	return "data"
}

// Variant is a decoded shred variant byte.
type Variant struct {
	Kind      Kind
	Legacy    bool
	Chained   bool
	Resigned  bool
	ProofSize uint8
}

// ParseVariant decodes the variant byte that follows the signature.
func ParseVariant(b byte) (Variant, error) {
	switch b {
	case LegacyCodeMarker:
		return Variant{Kind: KindCode, Legacy: true}, nil
	case LegacyDataMarker:
		return Variant{Kind: KindData, Legacy: true}, nil
	}
	proof := b & 0x0F
	switch b & 0xF0 {
	case 0x40:
		return Variant{Kind: KindCode, ProofSize: proof}, nil
	case 0x60:
		return Variant{Kind: KindCode, Chained: true, ProofSize: proof}, nil
	case 0x70:
		return Variant{Kind: KindCode, Chained: true, Resigned: true, ProofSize: proof}, nil
	case 0x80:
		return Variant{Kind: KindData, ProofSize: proof}, nil
	case 0x90:
		return Variant{Kind: KindData, Chained: true, ProofSize: proof}, nil
	case 0xB0:
		return Variant{Kind: KindData, Chained: true, Resigned: true, ProofSize: proof}, nil
	}
	return Variant{}, fmt.Errorf("%w: 0x%02x", core.ErrUnknownVariant, b)
}

// PayloadSize is the number of bytes a shred of this variant occupies.
func (v Variant) PayloadSize() int {
	if v.Kind == KindData && !v.Legacy {
		return MerkleDataPayloadSize
	}
	return CodePayloadSize
}

// Shred is a shred decoded from a captured frame.
type Shred struct {
	Variant     Variant
	Slot        uint64
	Index       uint32
	Version     uint16
	FECSetIndex uint32

	// Data shreds
	ParentOffset uint16
	Flags        uint8
	Size         uint16

	// Code shreds
	NumData  uint16
	NumCode  uint16
	Position uint16

	payload []byte
}

// Payload returns the canonical payload, truncated to the variant's size.
// It aliases the buffer passed to Parse.
func (s *Shred) Payload() []byte {
	return s.payload
}

// Parse decodes a serialized shred and validates its headers.
func Parse(data []byte) (*Shred, error) {
	if len(data) < CommonHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", core.ErrPacketTooShort, len(data))
	}
	variant, err := ParseVariant(data[SignatureSize])
	if err != nil {
		return nil, err
	}
	size := variant.PayloadSize()
	if len(data) < size {
		return nil, fmt.Errorf("%w: %d bytes, %s shred needs %d", core.ErrPacketTooShort, len(data), variant.Kind, size)
	}

	s := &Shred{
		Variant:     variant,
		Slot:        binary.LittleEndian.Uint64(data[65:73]),
		Index:       binary.LittleEndian.Uint32(data[73:77]),
		Version:     binary.LittleEndian.Uint16(data[77:79]),
		FECSetIndex: binary.LittleEndian.Uint32(data[79:83]),
		payload:     data[:size],
	}

	h := data[CommonHeaderSize:]
	switch variant.Kind {
	case KindData:
		s.ParentOffset = binary.LittleEndian.Uint16(h[0:2])
		s.Flags = h[2]
		s.Size = binary.LittleEndian.Uint16(h[3:5])
		err = s.sanitizeData()
	case KindCode:
		s.NumData = binary.LittleEndian.Uint16(h[0:2])
		s.NumCode = binary.LittleEndian.Uint16(h[2:4])
		s.Position = binary.LittleEndian.Uint16(h[4:6])
		err = s.sanitizeCode()
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shred) sanitizeData() error {
	headers := CommonHeaderSize + DataHeaderSize
	if int(s.Size) < headers || int(s.Size) > len(s.payload) {
		return fmt.Errorf("%w: data size %d", core.ErrInvalidShred, s.Size)
	}
	if s.Index < s.FECSetIndex {
		return fmt.Errorf("%w: index %d below fec set %d", core.ErrInvalidShred, s.Index, s.FECSetIndex)
	}
	if s.ParentOffset == 0 && s.Slot != 0 {
		return fmt.Errorf("%w: zero parent offset at slot %d", core.ErrInvalidShred, s.Slot)
	}
	if uint64(s.ParentOffset) > s.Slot {
		return fmt.Errorf("%w: parent offset %d beyond slot %d", core.ErrInvalidShred, s.ParentOffset, s.Slot)
	}
	return nil
}

func (s *Shred) sanitizeCode() error {
	if s.NumData == 0 || s.NumCode == 0 {
		return fmt.Errorf("%w: empty erasure batch %d/%d", core.ErrInvalidShred, s.NumData, s.NumCode)
	}
	if s.Position >= s.NumCode {
		return fmt.Errorf("%w: position %d of %d", core.ErrInvalidShred, s.Position, s.NumCode)
	}
	if uint32(s.Position) > s.Index {
		return fmt.Errorf("%w: position %d beyond index %d", core.ErrInvalidShred, s.Position, s.Index)
	}
	return nil
}
