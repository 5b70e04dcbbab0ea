package state

const (
	// MaxLinkCost is the largest cost accepted on a link, the range of an OSPF interface output cost.
	MaxLinkCost = 0xFFFF
)

var (
	DefaultMaxRounds  = 64
	LoopEventCapacity = uint64(1 << 16) // per router
	TraceBufferSize   = 1024
	DefaultMeshCost   = 1
)
