package sacnnet

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"github.com/rs/zerolog"

	"github.com/Tuhis/go-sacn/internal/sacn"
	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

// multicastSocket is one per-interface, per-family multicast send socket
// (spec §4.1: "one multicast send socket per usable interface").
type multicastSocket struct {
	conn    *net.UDPConn
	pc4     *ipv4.PacketConn
	pc6     *ipv6.PacketConn
	ifIndex int
	v6      bool
}

// SendSockets is the source engine's outgoing socket pool: one multicast
// send socket per usable interface/family, plus two global unicast send
// sockets (v4, v6).
type SendSockets struct {
	log zerolog.Logger

	mu         sync.Mutex
	multicast  map[int]*multicastSocket // keyed by ifIndex, v4
	multicast6 map[int]*multicastSocket // keyed by ifIndex, v6
	unicast4   *net.UDPConn
	unicast6   *net.UDPConn

	lastErr error // most recent send error; used to rate-limit logging
}

// NewSendSockets creates a multicast send socket on every usable interface
// (for the families it supports) plus the two unicast send sockets.
func NewSendSockets(netints []Netint, log zerolog.Logger) (*SendSockets, error) {
	s := &SendSockets{
		log:        log.With().Str("component", "sacnnet.send").Logger(),
		multicast:  make(map[int]*multicastSocket),
		multicast6: make(map[int]*multicastSocket),
	}

	for _, ni := range netints {
		if ni.V4 {
			ms, err := newMulticastSocketV4(ni)
			if err != nil {
				s.log.Warn().Err(err).Str("iface", ni.Iface.Name).Msg("failed to open IPv4 multicast send socket")
				continue
			}
			s.multicast[ni.IfIndex] = ms
		}
		if ni.V6 {
			ms, err := newMulticastSocketV6(ni)
			if err != nil {
				s.log.Warn().Err(err).Str("iface", ni.Iface.Name).Msg("failed to open IPv6 multicast send socket")
				continue
			}
			s.multicast6[ni.IfIndex] = ms
		}
	}

	if len(s.multicast) == 0 && len(s.multicast6) == 0 {
		return nil, fmt.Errorf("%w: no multicast send socket could be opened on any interface", sacnerr.ErrNoNetints)
	}

	u4, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err == nil {
		s.unicast4 = u4
	}
	u6, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6unspecified, Port: 0})
	if err == nil {
		s.unicast6 = u6
	}
	if s.unicast4 == nil && s.unicast6 == nil {
		return nil, fmt.Errorf("%w: no unicast send socket could be opened", sacnerr.ErrSys)
	}

	return s, nil
}

func newMulticastSocketV4(ni Netint) (*multicastSocket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(sacn.SourceMulticastTTL); err != nil {
		conn.Close()
		return nil, err
	}
	if err := pc.SetMulticastInterface(&ni.Iface); err != nil {
		conn.Close()
		return nil, err
	}
	return &multicastSocket{conn: conn, pc4: pc, ifIndex: ni.IfIndex}, nil
}

func newMulticastSocketV6(ni Netint) (*multicastSocket, error) {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6unspecified, Port: 0})
	if err != nil {
		return nil, err
	}
	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetMulticastHopLimit(sacn.SourceMulticastTTL); err != nil {
		conn.Close()
		return nil, err
	}
	if err := pc.SetMulticastInterface(&ni.Iface); err != nil {
		conn.Close()
		return nil, err
	}
	return &multicastSocket{conn: conn, pc6: pc, ifIndex: ni.IfIndex, v6: true}, nil
}

// SendMulticast sends buf to universe's multicast group over the send
// socket for ifIndex, filtered by ipSupport. Transient errors are
// captured and only logged when the error changes (spec §4.1).
func (s *SendSockets) SendMulticast(universe uint16, ipSupport sacn.IPSupport, buf []byte, ifIndex int) error {
	var lastErr error

	if ipSupport != sacn.IPSupportV6 {
		if ms, ok := s.multicast[ifIndex]; ok {
			addr := &net.UDPAddr{IP: sacn.MulticastAddrV4(universe), Port: sacn.Port}
			if _, err := ms.conn.WriteToUDP(buf, addr); err != nil {
				lastErr = err
			}
		}
	}
	if ipSupport != sacn.IPSupportV4 {
		if ms, ok := s.multicast6[ifIndex]; ok {
			addr := &net.UDPAddr{IP: sacn.MulticastAddrV6(universe), Port: sacn.Port}
			if _, err := ms.conn.WriteToUDP(buf, addr); err != nil {
				lastErr = err
			}
		}
	}

	s.noteSendError(lastErr)
	return lastErr
}

// SendUnicast sends buf to dest over the global v4 or v6 unicast socket,
// chosen by dest's address family.
func (s *SendSockets) SendUnicast(buf []byte, dest *net.UDPAddr) error {
	var conn *net.UDPConn
	if dest.IP.To4() != nil {
		conn = s.unicast4
	} else {
		conn = s.unicast6
	}
	if conn == nil {
		err := fmt.Errorf("%w: no unicast socket available for %s", sacnerr.ErrSys, dest)
		s.noteSendError(err)
		return err
	}

	_, err := conn.WriteToUDP(buf, dest)
	s.noteSendError(err)
	return err
}

// IfIndexes returns every interface index with at least one open
// multicast send socket, used by universe-discovery paging to send on
// every source-owned netint.
func (s *SendSockets) IfIndexes() []int {
	seen := make(map[int]bool)
	var out []int
	for idx := range s.multicast {
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	for idx := range s.multicast6 {
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

func (s *SendSockets) noteSendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		return
	}
	if s.lastErr == nil || s.lastErr.Error() != err.Error() {
		s.log.Warn().Err(err).Msg("send error (further identical errors suppressed)")
	}
	s.lastErr = err
}

// Close tears down every send socket.
func (s *SendSockets) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ms := range s.multicast {
		ms.conn.Close()
	}
	for _, ms := range s.multicast6 {
		ms.conn.Close()
	}
	if s.unicast4 != nil {
		s.unicast4.Close()
	}
	if s.unicast6 != nil {
		s.unicast6.Close()
	}
}
