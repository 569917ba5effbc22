// Package core defines the data shared by every pipeline stage, with zero external dependencies.
package core

// Source is the logical origin of a packet. The set is closed; values index
// fixed-size per-source arrays.
type Source uint8

const (
	SourceRelay     Source = iota // primary low-latency relay, forwarded to validators
	SourceReference               // comparison stream, never forwarded
)

// SourceCount is the number of Source values.
const SourceCount = 2

// Sources lists every Source in ordinal order.
var Sources = [SourceCount]Source{SourceRelay, SourceReference}

// String returns the short name used in report lines and metric labels.
func (s Source) String() string {
	switch s {
	case SourceRelay:
		return "relay"
	case SourceReference:
		return "reference"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	return s < SourceCount
}
