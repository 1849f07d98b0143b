package gossip

// terminationDetector holds the two signals that end the protocol on a node:
// neighbors that announced DONE this round (follower termination) and the
// node's own quiescence flag (nothing new learned in a round).
type terminationDetector struct {
	ended      []NodeID
	terminated bool
}

// observeDone queues id for removal from the active set at the next advance.
func (d *terminationDetector) observeDone(id NodeID) {
	d.ended = append(d.ended, id)
}

// drain removes every queued neighbor from ml and returns the ids removed.
func (d *terminationDetector) drain(ml *MemberList) []NodeID {
	var removed []NodeID
	for _, id := range d.ended {
		if ml.Remove(id) {
			removed = append(removed, id)
		}
	}
	d.ended = d.ended[:0]
	return removed
}

// quiescent latches the terminated flag when a round learned nothing.
func (d *terminationDetector) quiescent(learned int) bool {
	if learned == 0 {
		d.terminated = true
	}
	return d.terminated
}
