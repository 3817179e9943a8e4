package sacnnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/Tuhis/go-sacn/internal/sacn"
)

// Mode selects between the two receive-socket sharing strategies spec
// §4.1 describes.
type Mode int

const (
	// SharedSocket uses one receive socket per (thread, IP family),
	// subscribed to many universes, and learns the arrival interface via
	// IP_PKTINFO/IPV6_PKTINFO control messages.
	SharedSocket Mode = iota

	// PerNIC uses one receive socket per (thread, IP family, interface);
	// the arrival interface is simply whichever socket produced the read.
	PerNIC
)

// ErrTimedOut is returned by Read when no datagram arrived within
// sacn.ReceiverReadTimeout.
var ErrTimedOut = errors.New("sacnnet: read timed out")

// ReadResult is one received datagram plus its resolved arrival
// interface.
type ReadResult struct {
	Data    []byte
	SrcAddr net.Addr
	IfIndex int
	V6      bool
}

// receiveSocket wraps one OS socket, optionally bound to a single
// interface (PerNIC mode).
type receiveSocket struct {
	conn     net.PacketConn
	pc4      *ipv4.PacketConn
	pc6      *ipv6.PacketConn
	v6       bool
	ifIndex  int // only meaningful in PerNIC mode; 0 in SharedSocket mode
	subs     *SubscriptionQueue
	bound    bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// ReceiveContext is the per-(thread, IP family) receive state: socket(s),
// subscription queue(s), and the channel the blocking Read drains.
//
// Subscribe/Unsubscribe may be called concurrently with Read/Reconcile;
// actual join/leave syscalls happen only inside Reconcile, which the
// owning receive thread calls once per poll cycle (spec §4.1, §5).
type ReceiveContext struct {
	log  zerolog.Logger
	mode Mode
	v6   bool

	mu      sync.Mutex
	sockets map[int]*receiveSocket // keyed by ifIndex; in SharedSocket mode, key 0 holds the one shared socket
	limited bool                   // SACN_RECEIVER_LIMIT_BIND: at most one bound socket per family
	bound   *receiveSocket

	results chan ReadResult
	errs    chan error

	closed chan struct{}
}

// NewReceiveContext creates a receive context for one IP family. In
// SharedSocket mode, netints is not used: one socket is bound to the
// wildcard address; in PerNIC mode, one socket per netint is opened
// immediately.
func NewReceiveContext(mode Mode, v6 bool, netints []Netint, limitBind bool, log zerolog.Logger) (*ReceiveContext, error) {
	rc := &ReceiveContext{
		log:     log.With().Str("component", "sacnnet.recv").Bool("v6", v6).Logger(),
		mode:    mode,
		v6:      v6,
		sockets: make(map[int]*receiveSocket),
		limited: limitBind,
		results: make(chan ReadResult, 256),
		errs:    make(chan error, 16),
		closed:  make(chan struct{}),
	}

	switch mode {
	case SharedSocket:
		sock, err := rc.openSocket(0)
		if err != nil {
			return nil, err
		}
		rc.sockets[0] = sock
		rc.bound = sock
		go rc.readLoop(sock)
	case PerNIC:
		for _, ni := range netints {
			if (v6 && !ni.V6) || (!v6 && !ni.V4) {
				continue
			}
			sock, err := rc.openSocket(ni.IfIndex)
			if err != nil {
				rc.log.Warn().Err(err).Int("ifindex", ni.IfIndex).Msg("failed to open per-NIC receive socket")
				continue
			}
			sock.bound = !limitBind || rc.bound == nil
			if sock.bound {
				rc.bound = sock
			}
			rc.sockets[ni.IfIndex] = sock
			go rc.readLoop(sock)
		}
		if len(rc.sockets) == 0 {
			return nil, fmt.Errorf("no per-NIC receive sockets could be opened")
		}
	}

	return rc, nil
}

func (rc *ReceiveContext) openSocket(ifIndex int) (*receiveSocket, error) {
	network := "udp4"
	if rc.v6 {
		network = "udp6"
	}
	conn, err := listenPacketReuseport(network, fmt.Sprintf(":%d", sacn.Port))
	if err != nil {
		return nil, err
	}

	sock := &receiveSocket{conn: conn, v6: rc.v6, ifIndex: ifIndex, subs: NewSubscriptionQueue(), stopCh: make(chan struct{})}
	if rc.v6 {
		sock.pc6 = ipv6.NewPacketConn(conn)
		_ = sock.pc6.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, rc.mode == SharedSocket)
	} else {
		sock.pc4 = ipv4.NewPacketConn(conn)
		_ = sock.pc4.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, rc.mode == SharedSocket)
	}
	return sock, nil
}

func (rc *ReceiveContext) readLoop(sock *receiveSocket) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-sock.stopCh:
			return
		default:
		}

		var n int
		var srcAddr net.Addr
		ifIndex := sock.ifIndex
		var err error

		if rc.v6 {
			var cm *ipv6.ControlMessage
			n, cm, srcAddr, err = sock.pc6.ReadFrom(buf)
			if cm != nil && cm.IfIndex != 0 {
				ifIndex = cm.IfIndex
			}
		} else {
			var cm *ipv4.ControlMessage
			n, cm, srcAddr, err = sock.pc4.ReadFrom(buf)
			if cm != nil && cm.IfIndex != 0 {
				ifIndex = cm.IfIndex
			}
		}

		if err != nil {
			select {
			case <-sock.stopCh:
				return
			default:
			}
			select {
			case rc.errs <- err:
			default:
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case rc.results <- ReadResult{Data: data, SrcAddr: srcAddr, IfIndex: ifIndex, V6: rc.v6}:
		case <-sock.stopCh:
			return
		}
	}
}

// Read blocks up to sacn.ReceiverReadTimeout for one datagram, returning
// ErrTimedOut if none arrives. This stands in for the poll_wait() call in
// spec §4.1: instead of epoll across raw descriptors, each socket's read
// runs in its own goroutine and Read fans results in over a channel,
// which is the idiomatic Go rendition of the same "block with a bounded
// timeout, then let the caller reconcile subscriptions" loop shape.
func (rc *ReceiveContext) Read(ctx context.Context) (*ReadResult, error) {
	timer := time.NewTimer(sacn.ReceiverReadTimeout)
	defer timer.Stop()

	select {
	case res := <-rc.results:
		return &res, nil
	case err := <-rc.errs:
		return nil, fmt.Errorf("%w", err)
	case <-timer.C:
		return nil, ErrTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-rc.closed:
		return nil, net.ErrClosed
	}
}

// Subscribe queues a multicast join for universe's group on ifIndex.
// Actual syscalls happen on the next Reconcile.
func (rc *ReceiveContext) Subscribe(universe uint16, ifIndex int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	sock := rc.socketFor(ifIndex)
	if sock == nil {
		return
	}
	sock.subs.Subscribe(rc.group(universe), rc.ifIndexArg(ifIndex))
}

// Unsubscribe queues a multicast leave, symmetric to Subscribe.
func (rc *ReceiveContext) Unsubscribe(universe uint16, ifIndex int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	sock := rc.socketFor(ifIndex)
	if sock == nil {
		return
	}
	sock.subs.Unsubscribe(rc.group(universe), rc.ifIndexArg(ifIndex))
}

// Reconcile processes queued unsubscribes, then subscribes, on every
// socket this context owns (spec §4.1 ordering: "unsubscribes first, then
// subscribes, then dead socket closures, then new sockets").
func (rc *ReceiveContext) Reconcile() {
	rc.mu.Lock()
	sockets := make([]*receiveSocket, 0, len(rc.sockets))
	for _, s := range rc.sockets {
		sockets = append(sockets, s)
	}
	rc.mu.Unlock()

	for _, sock := range sockets {
		sock := sock
		errs := sock.subs.Reconcile(
			func(group net.IP, ifIndex int) error { return rc.leaveGroup(sock, group, ifIndex) },
			func(group net.IP, ifIndex int) error { return rc.joinGroup(sock, group, ifIndex) },
		)
		for _, err := range errs {
			rc.log.Warn().Err(err).Msg("multicast subscription reconciliation error")
		}
	}
}

func (rc *ReceiveContext) socketFor(ifIndex int) *receiveSocket {
	if rc.mode == SharedSocket {
		return rc.sockets[0]
	}
	return rc.sockets[ifIndex]
}

func (rc *ReceiveContext) ifIndexArg(ifIndex int) int {
	if rc.mode == SharedSocket {
		return ifIndex
	}
	return 0 // per-NIC: membership is per-socket already, ifIndex is implicit
}

func (rc *ReceiveContext) group(universe uint16) net.IP {
	if rc.v6 {
		return sacn.MulticastAddrV6(universe)
	}
	return sacn.MulticastAddrV4(universe)
}

func (rc *ReceiveContext) joinGroup(sock *receiveSocket, group net.IP, ifIndex int) error {
	iface, err := rc.resolveIface(sock, ifIndex)
	if err != nil {
		return err
	}
	if rc.v6 {
		return sock.pc6.JoinGroup(iface, &net.UDPAddr{IP: group})
	}
	return sock.pc4.JoinGroup(iface, &net.UDPAddr{IP: group})
}

func (rc *ReceiveContext) leaveGroup(sock *receiveSocket, group net.IP, ifIndex int) error {
	iface, err := rc.resolveIface(sock, ifIndex)
	if err != nil {
		return err
	}
	if rc.v6 {
		return sock.pc6.LeaveGroup(iface, &net.UDPAddr{IP: group})
	}
	return sock.pc4.LeaveGroup(iface, &net.UDPAddr{IP: group})
}

func (rc *ReceiveContext) resolveIface(sock *receiveSocket, ifIndex int) (*net.Interface, error) {
	if rc.mode == PerNIC {
		ifIndex = sock.ifIndex
	}
	return net.InterfaceByIndex(ifIndex)
}

// Close stops every read goroutine and closes every socket.
func (rc *ReceiveContext) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for _, sock := range rc.sockets {
		sock.stopOnce.Do(func() { close(sock.stopCh) })
		sock.conn.Close()
	}
	select {
	case <-rc.closed:
	default:
		close(rc.closed)
	}
}

// ActiveSubscriptions reports the total number of joined (group, ifIndex)
// tuples across every socket this context owns, for diagnostics/tests.
func (rc *ReceiveContext) ActiveSubscriptions() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	total := 0
	for _, s := range rc.sockets {
		total += s.subs.ActiveCount()
	}
	return total
}

// Rebind promotes a successor socket to "bound" after the previously
// bound socket closes, implementing the SACN_RECEIVER_LIMIT_BIND
// successor policy from spec §4.1. No-op unless limited-bind mode and
// the currently bound socket is gone.
func (rc *ReceiveContext) Rebind() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.limited {
		return
	}
	for _, s := range rc.sockets {
		select {
		case <-s.stopCh:
			continue
		default:
		}
		if s == rc.bound {
			return
		}
	}
	for _, s := range rc.sockets {
		select {
		case <-s.stopCh:
			continue
		default:
			s.bound = true
			rc.bound = s
			return
		}
	}
}
