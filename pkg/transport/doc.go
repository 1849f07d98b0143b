// Package transport moves gossip messages between neighbors. Every
// implementation is request/reply: Send delivers one message and waits for
// the receiver's acknowledgement, Listen hands each inbound message to a
// gossip.Handler and writes back whatever reply it returns. Connections are
// opened per send and closed right after; nothing is pooled.
//
// Implementations: UDP (one datagram each way), TCP (one connection per
// exchange), HTTP (one POST per exchange) and Mem (in-process, for tests and
// the simulator). All of them share the JSON wire codec in codec.go.
package transport
