package gossip

import "slices"

// Member is a neighbor this node exchanges messages with.
type Member struct {
	ID   NodeID
	Addr string // host:port understood by the transport
}

// MemberList is the active neighbor set. It starts as the static neighbor
// set and only shrinks, as neighbors announce their own completion. It is
// not safe for concurrent use; the Engine guards it with its own lock.
type MemberList struct {
	members map[NodeID]Member
}

func NewMemberList(neighbors []Member) *MemberList {
	ml := &MemberList{members: make(map[NodeID]Member, len(neighbors))}
	for _, m := range neighbors {
		ml.members[m.ID] = m
	}
	return ml
}

func (ml *MemberList) Get(id NodeID) (Member, bool) {
	m, ok := ml.members[id]
	return m, ok
}

func (ml *MemberList) Contains(id NodeID) bool {
	_, ok := ml.members[id]
	return ok
}

// Remove drops id and reports whether it was present.
func (ml *MemberList) Remove(id NodeID) bool {
	if _, ok := ml.members[id]; !ok {
		return false
	}
	delete(ml.members, id)
	return true
}

func (ml *MemberList) Len() int { return len(ml.members) }

// All returns the members ordered by id.
func (ml *MemberList) All() []Member {
	out := make([]Member, 0, len(ml.members))
	for _, m := range ml.members {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Member) int { return int(a.ID) - int(b.ID) })
	return out
}

func (ml *MemberList) IDs() []NodeID {
	out := make([]NodeID, 0, len(ml.members))
	for id := range ml.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
