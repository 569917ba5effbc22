// Package dedup implements the rotating duplicate suppression window.
package dedup

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Hasher is a keyed 64-bit content hash. Its seed is drawn once at creation,
// so hashes are only comparable between users of the same Hasher.
// Hasher is safe for concurrent use.
type Hasher struct {
	seed uint64
}

// NewHasher returns a Hasher with a random seed.
func NewHasher() Hasher {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("dedup: cannot read random seed: " + err.Error())
	}
	return Hasher{seed: binary.LittleEndian.Uint64(b[:])}
}

// NewHasherWithSeed returns a Hasher with a fixed seed.
func NewHasherWithSeed(seed uint64) Hasher {
	return Hasher{seed: seed}
}

// Sum64 hashes b.
func (h Hasher) Sum64(b []byte) uint64 {
	var d xxhash.Digest
	d.ResetWithSeed(h.seed)
	_, _ = d.Write(b)
	return d.Sum64()
}
