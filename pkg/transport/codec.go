package transport

import (
	"encoding/json"
	"fmt"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// Encode renders m in the wire format.
func Encode(m gossip.Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %v: %w", m, err)
	}
	return b, nil
}

// Decode parses and validates a wire message.
func Decode(b []byte) (gossip.Message, error) {
	var m gossip.Message
	if err := json.Unmarshal(b, &m); err != nil {
		return gossip.Message{}, fmt.Errorf("%w: %v", gossip.ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return gossip.Message{}, err
	}
	return m, nil
}
