package transport

import (
	"errors"
	"slices"
	"testing"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

func TestCodecRoundTrip(t *testing.T) {
	in := gossip.Message{
		Round:      3,
		Src:        4,
		Dst:        9,
		Status:     gossip.StatusDone,
		KnownHosts: []gossip.NodeID{0, 4, 9, 12},
	}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Round != in.Round || out.Src != in.Src || out.Dst != in.Dst || out.Status != in.Status {
		t.Fatalf("Decode(Encode(m)) = %v, want %v", out, in)
	}
	if !slices.Equal(out.KnownHosts, in.KnownHosts) {
		t.Fatalf("KnownHosts = %v, want %v", out.KnownHosts, in.KnownHosts)
	}
}

func TestStatusOnTheWire(t *testing.T) {
	b, err := Encode(gossip.Message{Round: 1, Status: gossip.StatusRespond})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"round":1,"src":0,"dst":0,"status":"RESPOND","known_hosts":null}`
	if string(b) != want {
		t.Fatalf("wire form = %s, want %s", b, want)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `hello`,
		"unknown status": `{"round":1,"src":1,"dst":2,"status":"MAYBE"}`,
		"missing status": `{"round":1,"src":1,"dst":2}`,
		"negative round": `{"round":-1,"src":1,"dst":2,"status":"SEND"}`,
		"bad hosts":      `{"round":1,"src":1,"dst":2,"status":"SEND","known_hosts":"x"}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, gossip.ErrInvalidMessage) {
			t.Fatalf("%s: Decode err = %v, want ErrInvalidMessage", name, err)
		}
	}
}
