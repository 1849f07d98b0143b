package gossip

import (
	"errors"
	"fmt"
)

// NodeID identifies a process for the lifetime of a run.
type NodeID int

type Status uint8

const (
	StatusSend Status = iota + 1
	StatusDone
	StatusRespond
)

var statusNames = map[Status]string{
	StatusSend:    "SEND",
	StatusDone:    "DONE",
	StatusRespond: "RESPOND",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	n, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown status %d", uint8(s))
	}
	return []byte(n), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for k, n := range statusNames {
		if n == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// ErrInvalidMessage is returned by Validate for messages that cannot take
// part in the protocol.
var ErrInvalidMessage = errors.New("gossip: invalid message")

// Message is one transmission between neighbors. A fresh value is built for
// every send; KnownHosts is kept sorted and never shared between messages.
type Message struct {
	Round      int      `json:"round"`
	Src        NodeID   `json:"src"`
	Dst        NodeID   `json:"dst"`
	Status     Status   `json:"status"`
	KnownHosts []NodeID `json:"known_hosts"`
}

// Validate checks the fields every message must carry on the wire.
func (m Message) Validate() error {
	if m.Round < 0 {
		return fmt.Errorf("%w: negative round %d", ErrInvalidMessage, m.Round)
	}
	if _, ok := statusNames[m.Status]; !ok {
		return fmt.Errorf("%w: status %d", ErrInvalidMessage, uint8(m.Status))
	}
	return nil
}

// Reply builds the acknowledgement a receiver sends back for m.
func (m Message) Reply() Message {
	return Message{
		Round:  m.Round,
		Src:    m.Dst,
		Dst:    m.Src,
		Status: StatusRespond,
	}
}

func (m Message) String() string {
	return fmt.Sprintf("[Round %d] %d->%d %s %v", m.Round, m.Src, m.Dst, m.Status, m.KnownHosts)
}
