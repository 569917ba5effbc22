package core

// RelayPacket is a datagram accepted by a receiver. Hash covers only the
// canonical slice of Data; Data itself is forwarded untouched.
type RelayPacket struct {
	Source Source
	Data   []byte
	Hash   uint64
}
