package sacnnet

import "net"

// subKey identifies one multicast membership: a group address on a
// specific interface.
type subKey struct {
	group   string
	ifIndex int
}

// pendingOp is queued rather than applied immediately; spec §4.1 requires
// unsubscribes to process before subscribes on each poll cycle, and a
// queued unsubscribe to cancel a pending subscribe for the same tuple
// (and vice versa) without any actual IGMP traffic.
type pendingOp struct {
	key   subKey
	group net.IP
	count int
}

// SubscriptionQueue batches subscribe/unsubscribe requests for one
// receive socket and reconciles them against a refcounted membership set
// on each poll cycle.
type SubscriptionQueue struct {
	refs        map[subKey]int
	subscribe   map[subKey]pendingOp
	unsubscribe map[subKey]pendingOp
}

// NewSubscriptionQueue creates an empty queue.
func NewSubscriptionQueue() *SubscriptionQueue {
	return &SubscriptionQueue{
		refs:        make(map[subKey]int),
		subscribe:   make(map[subKey]pendingOp),
		unsubscribe: make(map[subKey]pendingOp),
	}
}

// Subscribe queues a join request for (group, ifIndex). If an unsubscribe
// for the same tuple is already queued, it is cancelled instead of
// generating any actual traffic.
func (q *SubscriptionQueue) Subscribe(group net.IP, ifIndex int) {
	k := subKey{group: group.String(), ifIndex: ifIndex}
	if op, pending := q.unsubscribe[k]; pending {
		if op.count--; op.count <= 0 {
			delete(q.unsubscribe, k)
		} else {
			q.unsubscribe[k] = op
		}
		return
	}
	q.subscribe[k] = pendingOp{key: k, group: group, count: q.subscribe[k].count + 1}
}

// Unsubscribe queues a leave request, symmetric to Subscribe.
func (q *SubscriptionQueue) Unsubscribe(group net.IP, ifIndex int) {
	k := subKey{group: group.String(), ifIndex: ifIndex}
	if op, pending := q.subscribe[k]; pending {
		if op.count--; op.count <= 0 {
			delete(q.subscribe, k)
		} else {
			q.subscribe[k] = op
		}
		return
	}
	q.unsubscribe[k] = pendingOp{key: k, group: group, count: q.unsubscribe[k].count + 1}
}

// Reconcile applies queued unsubscribes, then subscribes, invoking join
// and leave for each tuple whose refcount transitions to/from zero. Many
// receivers on the same universe share one join: only the first
// Subscribe for a tuple and the last matching Unsubscribe touch the
// socket.
func (q *SubscriptionQueue) Reconcile(leave, join func(group net.IP, ifIndex int) error) []error {
	var errs []error

	for k, op := range q.unsubscribe {
		q.refs[k] -= op.count
		if q.refs[k] <= 0 {
			delete(q.refs, k)
			if err := leave(op.group, k.ifIndex); err != nil {
				errs = append(errs, err)
			}
		}
	}
	q.unsubscribe = make(map[subKey]pendingOp)

	for k, op := range q.subscribe {
		if q.refs[k] == 0 {
			if err := join(op.group, k.ifIndex); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		q.refs[k] += op.count
	}
	q.subscribe = make(map[subKey]pendingOp)

	return errs
}

// ActiveCount reports how many distinct (group, ifIndex) tuples are
// currently joined, for diagnostics/tests.
func (q *SubscriptionQueue) ActiveCount() int {
	return len(q.refs)
}
