package shred

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/shredrelay/internal/core"
)

func TestCanonicalLengthTable(t *testing.T) {
	tests := []struct {
		tag  byte
		want int
	}{
		{0x40, 1228},
		{0x45, 1228},
		{0x60, 1228},
		{0x70, 1164},
		{0x80, 1203},
		{0x9f, 1203},
		{0xB0, 1139},
	}
	for _, tt := range tests {
		n, err := CanonicalLength(tt.tag)
		require.NoError(t, err, "tag 0x%02x", tt.tag)
		assert.Equal(t, tt.want, n, "tag 0x%02x", tt.tag)
	}
}

func TestCanonicalLengthInvalid(t *testing.T) {
	for _, tag := range []byte{0x00, 0x10, 0x20, 0x30, 0x50, 0xA0, 0xC0, 0xD0, 0xE0, 0xF0} {
		_, err := CanonicalLength(tag)
		assert.ErrorIs(t, err, core.ErrUnknownVariant, "tag 0x%02x", tag)
	}
	for _, tag := range []byte{LegacyCodeMarker, LegacyDataMarker} {
		_, err := CanonicalLength(tag)
		assert.ErrorIs(t, err, core.ErrLegacyShred, "tag 0x%02x", tag)
	}
}

func TestCanonicalSlicesPrefix(t *testing.T) {
	d := make([]byte, SignatureSize+1+2000)
	d[SignatureSize] = 0x41
	for i := range d {
		if i != SignatureSize {
			d[i] = byte(i)
		}
	}

	got, err := Canonical(d)
	require.NoError(t, err)
	assert.Len(t, got, 1228)
	assert.Equal(t, d[:1228], got)
	assert.Len(t, d, 2065, "input must not be truncated")
}

func TestCanonicalTooShort(t *testing.T) {
	_, err := Canonical(make([]byte, SignatureSize))
	assert.ErrorIs(t, err, core.ErrPacketTooShort)

	d := make([]byte, 1000)
	d[SignatureSize] = 0x80
	_, err = Canonical(d)
	assert.ErrorIs(t, err, core.ErrPacketTooShort)
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		b    byte
		want Variant
	}{
		{0x5A, Variant{Kind: KindCode, Legacy: true}},
		{0xA5, Variant{Kind: KindData, Legacy: true}},
		{0x46, Variant{Kind: KindCode, ProofSize: 6}},
		{0x66, Variant{Kind: KindCode, Chained: true, ProofSize: 6}},
		{0x76, Variant{Kind: KindCode, Chained: true, Resigned: true, ProofSize: 6}},
		{0x86, Variant{Kind: KindData, ProofSize: 6}},
		{0x96, Variant{Kind: KindData, Chained: true, ProofSize: 6}},
		{0xB6, Variant{Kind: KindData, Chained: true, Resigned: true, ProofSize: 6}},
	}
	for _, tt := range tests {
		got, err := ParseVariant(tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "variant 0x%02x", tt.b)
	}

	_, err := ParseVariant(0xC0)
	assert.True(t, errors.Is(err, core.ErrUnknownVariant))
}

// buildDataShred returns a merkle data shred padded to extra bytes beyond
// its payload size.
func buildDataShred(extra int) []byte {
	d := make([]byte, MerkleDataPayloadSize+extra)
	d[SignatureSize] = 0x96
	binary.LittleEndian.PutUint64(d[65:], 1000)
	binary.LittleEndian.PutUint32(d[73:], 12)
	binary.LittleEndian.PutUint16(d[77:], 50093)
	binary.LittleEndian.PutUint32(d[79:], 0)
	binary.LittleEndian.PutUint16(d[83:], 1)
	d[85] = 0x40
	binary.LittleEndian.PutUint16(d[86:], 500)
	return d
}

func buildCodeShred() []byte {
	d := make([]byte, CodePayloadSize)
	d[SignatureSize] = 0x66
	binary.LittleEndian.PutUint64(d[65:], 1000)
	binary.LittleEndian.PutUint32(d[73:], 40)
	binary.LittleEndian.PutUint32(d[79:], 32)
	binary.LittleEndian.PutUint16(d[83:], 32)
	binary.LittleEndian.PutUint16(d[85:], 32)
	binary.LittleEndian.PutUint16(d[87:], 8)
	return d
}

func TestParseDataShred(t *testing.T) {
	d := buildDataShred(29)

	s, err := Parse(d)
	require.NoError(t, err)
	assert.Equal(t, KindData, s.Variant.Kind)
	assert.Equal(t, uint64(1000), s.Slot)
	assert.Equal(t, uint32(12), s.Index)
	assert.Equal(t, uint16(50093), s.Version)
	assert.Equal(t, uint16(1), s.ParentOffset)
	assert.Equal(t, uint16(500), s.Size)
	assert.Len(t, s.Payload(), MerkleDataPayloadSize)
	assert.Equal(t, d[:MerkleDataPayloadSize], s.Payload())
}

func TestParseCodeShred(t *testing.T) {
	s, err := Parse(buildCodeShred())
	require.NoError(t, err)
	assert.Equal(t, KindCode, s.Variant.Kind)
	assert.True(t, s.Variant.Chained)
	assert.Equal(t, uint16(8), s.Position)
	assert.Len(t, s.Payload(), CodePayloadSize)
}

func TestParseRejects(t *testing.T) {
	t.Run("short header", func(t *testing.T) {
		_, err := Parse(make([]byte, 40))
		assert.ErrorIs(t, err, core.ErrPacketTooShort)
	})
	t.Run("short payload", func(t *testing.T) {
		_, err := Parse(buildDataShred(0)[:900])
		assert.ErrorIs(t, err, core.ErrPacketTooShort)
	})
	t.Run("unknown variant", func(t *testing.T) {
		d := buildDataShred(0)
		d[SignatureSize] = 0x20
		_, err := Parse(d)
		assert.ErrorIs(t, err, core.ErrUnknownVariant)
	})
	t.Run("data size overflow", func(t *testing.T) {
		d := buildDataShred(0)
		binary.LittleEndian.PutUint16(d[86:], 2000)
		_, err := Parse(d)
		assert.ErrorIs(t, err, core.ErrInvalidShred)
	})
	t.Run("parent beyond slot", func(t *testing.T) {
		d := buildDataShred(0)
		binary.LittleEndian.PutUint16(d[83:], 2000)
		_, err := Parse(d)
		assert.ErrorIs(t, err, core.ErrInvalidShred)
	})
	t.Run("code position out of batch", func(t *testing.T) {
		d := buildCodeShred()
		binary.LittleEndian.PutUint16(d[87:], 32)
		_, err := Parse(d)
		assert.ErrorIs(t, err, core.ErrInvalidShred)
	})
	t.Run("empty erasure batch", func(t *testing.T) {
		d := buildCodeShred()
		binary.LittleEndian.PutUint16(d[83:], 0)
		_, err := Parse(d)
		assert.ErrorIs(t, err, core.ErrInvalidShred)
	})
}
