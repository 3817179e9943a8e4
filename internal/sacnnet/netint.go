// Package sacnnet is the network I/O layer (spec §4.1): interface
// enumeration and probing, send-socket pooling, multicast join/leave
// reconciliation, PKTINFO-based arrival-interface resolution, and the
// blocking read path shared by every receive thread.
package sacnnet

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/Tuhis/go-sacn/internal/sacn"
	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

// Netint identifies one usable network interface, keyed the way the
// engines reference it: by OS interface index.
type Netint struct {
	Iface   net.Interface
	IfIndex int
	V4      bool
	V6      bool
}

// probeResult is kept per enumerated interface for diagnostics, matching
// spec §4.1's "status Ok / OS error" per-interface test outcome.
type probeResult struct {
	iface net.Interface
	v4    bool
	v6    bool
	err   error
}

// probeUniverse is an arbitrary, unused universe whose multicast group is
// joined-then-left purely to validate that an interface supports
// multicast, mirroring the per-interface test in spec §4.1.
const probeUniverse = 63999

// ProbeInterfaces enumerates all OS network interfaces and, for each,
// opens a test send socket (configuring TTL and IP_MULTICAST_IF) and a
// test receive socket that joins then immediately leaves a probe
// multicast group. Interfaces that succeed on at least one IP family are
// returned as usable; at least one usable interface must exist overall or
// ErrNoNetints is returned.
func ProbeInterfaces() ([]Netint, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerating interfaces: %v", sacnerr.ErrSys, err)
	}

	var usable []Netint
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		res := probeOne(iface)
		if res.v4 || res.v6 {
			usable = append(usable, Netint{Iface: iface, IfIndex: iface.Index, V4: res.v4, V6: res.v6})
		}
	}

	if len(usable) == 0 {
		return nil, fmt.Errorf("%w: no interface passed the multicast probe", sacnerr.ErrNoNetints)
	}
	return usable, nil
}

func probeOne(iface net.Interface) probeResult {
	res := probeResult{iface: iface}
	res.v4 = probeV4(iface)
	res.v6 = probeV6(iface)
	return res
}

func probeV4(iface net.Interface) bool {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return false
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(sacn.SourceMulticastTTL); err != nil {
		return false
	}
	if err := pc.SetMulticastInterface(&iface); err != nil {
		return false
	}
	_ = pc.SetMulticastLoopback(false)

	group := &net.UDPAddr{IP: sacn.MulticastAddrV4(probeUniverse)}
	if err := pc.JoinGroup(&iface, group); err != nil {
		return false
	}
	_ = pc.LeaveGroup(&iface, group)
	return true
}

func probeV6(iface net.Interface) bool {
	conn, err := net.ListenPacket("udp6", ":0")
	if err != nil {
		return false
	}
	defer conn.Close()

	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetMulticastHopLimit(sacn.SourceMulticastTTL); err != nil {
		return false
	}
	if err := pc.SetMulticastInterface(&iface); err != nil {
		return false
	}
	_ = pc.SetMulticastLoopback(false)

	group := &net.UDPAddr{IP: sacn.MulticastAddrV6(probeUniverse)}
	if err := pc.JoinGroup(&iface, group); err != nil {
		return false
	}
	_ = pc.LeaveGroup(&iface, group)
	return true
}
