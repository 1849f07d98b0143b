// Package gossip implements round-synchronized flooding for zephyrmesh. Every
// node repeatedly sends the set of node ids it knows to its active neighbors
// and merges what they send back; the round in which an id is first learned
// is its hop distance. The package defines the wire Message, the per-node
// round Engine, the Broadcaster task that drives outbound sends, and the
// distance Report produced once the node has terminated.
//
// Typical usage:
//
//	e := gossip.New(gossip.Config{Self: 1, Neighbors: members})
//	b := gossip.NewBroadcaster(e, sender, gossip.BroadcastConfig{})
//	// hand e to a transport as its Handler, then:
//	e.Init()
//	err := b.Run(ctx)
//	<-e.Done()
//
// The Engine is transport agnostic: any Sender that delivers a Message to a
// neighbor and returns its reply can drive it, and any listener that calls
// Engine.OnMessage for inbound messages can feed it.
package gossip
