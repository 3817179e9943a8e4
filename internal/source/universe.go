package source

import (
	"net"
	"strconv"

	"github.com/Tuhis/go-sacn/internal/sacn"
)

// terminationState is a universe's membership in the termination sequence
// (spec §4.4 "Terminate-without-removing").
type terminationState int

const (
	notTerminating terminationState = iota
	terminatingAndRemoving
	terminatingWithoutRemoving
)

// unicastDest is one configured unicast destination on a universe.
type unicastDest struct {
	addr        *net.UDPAddr
	terminating bool
	termSent    int
}

// universe is one outgoing sACN universe owned by a Source.
type universe struct {
	cfg sacn.UniverseConfig

	seq uint8

	levels     [sacn.MaxSlots]byte
	levelCount int
	pap        [sacn.MaxSlots]byte
	papCount   int
	papValid   bool

	// effLevels is levels with the zero-priority -> zero-level coupling
	// applied (spec §4.4): recomputed whenever levels or pap changes.
	effLevels [sacn.MaxSlots]byte

	hasLevelData bool
	hasPAPData   bool

	levelSuppress suppression
	papSuppress   suppression

	unicastDests []*unicastDest

	termState    terminationState
	multicastTermSent int

	name        string
	priority    uint8
	preview     bool
	unicastOnly bool
}

func newUniverse(cfg sacn.UniverseConfig, sourceName string) (*universe, error) {
	u := &universe{cfg: cfg, name: sourceName, priority: cfg.Priority, preview: cfg.SendPreview, unicastOnly: cfg.SendUnicastOnly}
	for _, d := range cfg.UnicastDests {
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(d.Addr, strconv.Itoa(sacn.Port)))
		if err != nil {
			return nil, err
		}
		u.unicastDests = append(u.unicastDests, &unicastDest{addr: addr})
	}
	return u, nil
}

// recomputeEffectiveLevels applies the zero-priority -> zero-level coupling
// rule: every slot i where pap[i]==0 (explicitly, or beyond papCount) forces
// effLevels[i] to zero, independent of the application-supplied level.
func (u *universe) recomputeEffectiveLevels() {
	if !u.papValid {
		u.effLevels = u.levels
		return
	}
	for i := 0; i < sacn.MaxSlots; i++ {
		if i >= u.papCount || u.pap[i] == 0 {
			u.effLevels[i] = 0
		} else {
			u.effLevels[i] = u.levels[i]
		}
	}
}

func (u *universe) nextSeq() uint8 {
	s := u.seq
	u.seq++
	return s
}
