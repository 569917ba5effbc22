package shred

import (
	"fmt"

	"firestige.xyz/shredrelay/internal/core"
)

// canonicalLengths maps the high nibble of the variant byte to the length
// hashed for relay datagrams. Resigned variants drop the trailing
// retransmitter signature.
var canonicalLengths = [16]int{
	0x4: CodePayloadSize,
	0x6: CodePayloadSize,
	0x7: CodePayloadSize - resignedSize,
	0x8: MerkleDataPayloadSize,
	0x9: MerkleDataPayloadSize,
	0xB: MerkleDataPayloadSize - resignedSize,
}

// CanonicalLength returns the hashed length for a relay datagram's variant byte.
func CanonicalLength(tag byte) (int, error) {
	if tag == LegacyCodeMarker || tag == LegacyDataMarker {
		return 0, fmt.Errorf("%w: 0x%02x", core.ErrLegacyShred, tag)
	}
	n := canonicalLengths[tag>>4]
	if n == 0 {
		return 0, fmt.Errorf("%w: 0x%02x", core.ErrUnknownVariant, tag)
	}
	return n, nil
}

// Canonical returns the prefix of a relay datagram that identifies it for
// duplicate detection. The returned slice aliases data.
func Canonical(data []byte) ([]byte, error) {
	if len(data) <= SignatureSize {
		return nil, fmt.Errorf("%w: %d bytes", core.ErrPacketTooShort, len(data))
	}
	n, err := CanonicalLength(data[SignatureSize])
	if err != nil {
		return nil, err
	}
	if len(data) < n {
		return nil, fmt.Errorf("%w: %d bytes, need %d", core.ErrPacketTooShort, len(data), n)
	}
	return data[:n], nil
}
