package store

// AckStatus is the delivery state of one ack id on a channel.
type AckStatus int

const (
	AckUnknown AckStatus = iota
	AckPending
	AckCommitted
)

func (s AckStatus) String() string {
	switch s {
	case AckPending:
		return "pending"
	case AckCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// ackLog is a channel's ack id sequence plus the status of every id handed
// to the sender. Only the most recent retain committed ids are kept; older
// ones are forgotten and report AckUnknown. It is guarded by the owning
// session's lock.
type ackLog struct {
	next      int64
	statuses  map[int64]bool // true once committed
	pending   int
	committed []int64 // commit order, oldest first
	retain    int
}

func newAckLog(retain int) *ackLog {
	return &ackLog{statuses: make(map[int64]bool), retain: retain}
}

func (l *ackLog) allocate() int64 {
	id := l.next
	l.next++
	return id
}

func (l *ackLog) markPending(id int64) {
	if _, ok := l.statuses[id]; ok {
		return
	}
	l.statuses[id] = false
	l.pending++
}

func (l *ackLog) markCommitted(id int64) bool {
	committed, ok := l.statuses[id]
	if !ok || committed {
		return false
	}
	l.statuses[id] = true
	l.pending--
	l.committed = append(l.committed, id)
	l.prune()
	return true
}

func (l *ackLog) prune() {
	if l.retain <= 0 {
		return
	}
	excess := len(l.committed) - l.retain
	if excess <= 0 {
		return
	}
	for _, id := range l.committed[:excess] {
		delete(l.statuses, id)
	}
	l.committed = l.committed[excess:]
}

// retained is the number of ids whose status is still tracked.
func (l *ackLog) retained() int { return len(l.statuses) }

func (l *ackLog) status(id int64) AckStatus {
	committed, ok := l.statuses[id]
	switch {
	case !ok:
		return AckUnknown
	case committed:
		return AckCommitted
	default:
		return AckPending
	}
}
