package state

import (
	"fmt"
	"strings"
)

type RouterId string

// ASN is an autonomous system number
type ASN uint32

type AreaId string

type Protocol uint8

const (
	ProtoBGP Protocol = iota + 1
	ProtoOSPF
)

func (p Protocol) String() string {
	switch p {
	case ProtoBGP:
		return "bgp"
	case ProtoOSPF:
		return "ospf"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

// ParseProtocol accepts the names used in configuration files, case-insensitively
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "bgp":
		return ProtoBGP, nil
	case "ospf":
		return ProtoOSPF, nil
	}
	return 0, configErrorf("unknown protocol %q, expected bgp or ospf", s)
}

// Role is the protocol a router speaks together with its role parameters.
// AS is only meaningful for BGP speakers and Area only for OSPF speakers.
type Role struct {
	Protocol Protocol
	AS       ASN
	Area     AreaId
}

func BGP(as ASN) Role {
	return Role{Protocol: ProtoBGP, AS: as}
}

func OSPF(area AreaId) Role {
	return Role{Protocol: ProtoOSPF, Area: area}
}

func (r Role) IsBGP() bool {
	return r.Protocol == ProtoBGP
}

func (r Role) IsOSPF() bool {
	return r.Protocol == ProtoOSPF
}

func (r Role) String() string {
	switch r.Protocol {
	case ProtoBGP:
		return fmt.Sprintf("bgp as %d", r.AS)
	case ProtoOSPF:
		return fmt.Sprintf("ospf area %s", r.Area)
	}
	return r.Protocol.String()
}
