package gossip

import (
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
)

// OnMessage admits msg and re-checks round completion as one atomic step.
// Every well-formed request is acknowledged, including duplicates and stale
// retransmissions, so the sender stops retrying. Malformed messages and
// replies get no reply and change nothing.
func (e *Engine) OnMessage(msg Message) (Message, bool) {
	if !e.acceptable(msg) {
		return Message{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.admitLocked(msg)
	e.tryAdvanceLocked()
	return msg.Reply(), true
}

// Admit records msg for its round without checking for round completion.
func (e *Engine) Admit(msg Message) (Message, bool) {
	if !e.acceptable(msg) {
		return Message{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.admitLocked(msg)
	return msg.Reply(), true
}

// TryAdvanceRound completes the current round if every active neighbor has
// been heard from and this round's broadcast is finished. Otherwise it
// returns at once; the next admitted message or finished broadcast checks
// again.
func (e *Engine) TryAdvanceRound() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tryAdvanceLocked()
}

// GenerateOutbound builds this round's message for dst.
func (e *Engine) GenerateOutbound(dst NodeID) Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outboundLocked(dst)
}

func (e *Engine) acceptable(msg Message) bool {
	if err := msg.Validate(); err != nil || msg.Round < 1 || msg.Status == StatusRespond {
		telemetry.MessagesTotal.WithLabelValues(e.label, telemetry.OutcomeDropped).Inc()
		e.log.Debug("dropping message", zap.Stringer("msg", msg), zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) admitLocked(msg Message) {
	outcome := e.classifyLocked(msg)
	telemetry.MessagesTotal.WithLabelValues(e.label, outcome).Inc()
	e.log.Debug("admit",
		zap.Int("round", e.round),
		zap.String("outcome", outcome),
		zap.Stringer("msg", msg),
		zap.Int("received", len(e.received)),
		zap.Int("active", e.active.Len()),
	)
}

func (e *Engine) classifyLocked(msg Message) string {
	switch {
	case e.stopped:
		return telemetry.OutcomeLate
	case msg.Round > e.round:
		e.buffer = append(e.buffer, msg)
		telemetry.BufferedMessages.WithLabelValues(e.label).Set(float64(len(e.buffer)))
		return telemetry.OutcomeBuffered
	case msg.Round < e.round:
		return telemetry.OutcomeStale
	case !e.active.Contains(msg.Src):
		return telemetry.OutcomeDropped
	}
	if _, seen := e.received[msg.Src]; seen {
		return telemetry.OutcomeDuplicate
	}
	e.received[msg.Src] = struct{}{}
	if msg.Status == StatusDone {
		e.term.observeDone(msg.Src)
		return telemetry.OutcomeDone
	}
	for _, id := range msg.KnownHosts {
		e.frontier[id] = struct{}{}
	}
	return telemetry.OutcomeAdmitted
}

func (e *Engine) outboundLocked(dst NodeID) Message {
	status := StatusSend
	if e.term.terminated {
		status = StatusDone
	}
	return Message{
		Round:      e.round,
		Src:        e.self,
		Dst:        dst,
		Status:     status,
		KnownHosts: e.table.Keys(),
	}
}

func (e *Engine) roundCompleteLocked() bool {
	return !e.stopped && e.initialized && !e.broadcastEnabled && len(e.received) >= e.active.Len()
}

func (e *Engine) tryAdvanceLocked() {
	if !e.roundCompleteLocked() {
		return
	}
	e.advanceLocked()
	if e.stopped {
		return
	}
	e.replayLocked()
}

// advanceLocked closes the current round: it retires neighbors that
// announced DONE, records newly learned ids at the current round's distance
// and either stops the node or opens the next round.
func (e *Engine) advanceLocked() {
	removed := e.term.drain(e.active)
	learned := e.table.Missing(e.frontier)
	for _, id := range learned {
		e.table.Set(id, e.round)
	}

	now := time.Now()
	e.rounds++
	telemetry.RoundsTotal.WithLabelValues(e.label).Inc()
	telemetry.RoundDuration.WithLabelValues(e.label).Observe(now.Sub(e.roundStarted).Seconds())
	telemetry.KnownHosts.WithLabelValues(e.label).Set(float64(e.table.Len()))
	telemetry.ActiveNeighbors.WithLabelValues(e.label).Set(float64(e.active.Len()))
	e.roundStarted = now

	e.log.Debug("round complete",
		zap.Int("round", e.round),
		zap.Ints("learned", toInts(learned)),
		zap.Ints("retired", toInts(removed)),
		zap.Int("active", e.active.Len()),
	)

	// A node that went quiet last round has now told every active neighbor
	// it is done; a node whose neighbors all finished has nobody left.
	if e.term.terminated || e.active.Len() == 0 {
		e.shutdownLocked()
		return
	}
	if e.term.quiescent(len(learned)) {
		telemetry.Terminated.WithLabelValues(e.label).Set(1)
		e.log.Info("quiescent, announcing completion", zap.Int("round", e.round))
	}

	e.round++
	clear(e.received)
	clear(e.frontier)
	e.broadcastEnabled = true
	telemetry.CurrentRound.WithLabelValues(e.label).Set(float64(e.round))
	e.signal()
}

// replayLocked feeds buffered messages of the new round through admission,
// oldest first, keeping messages for later rounds in order. The round cannot
// complete again before the broadcast just released has finished, so one
// pass drains everything that is now current.
func (e *Engine) replayLocked() {
	if len(e.buffer) == 0 {
		return
	}
	pending := e.buffer
	e.buffer = nil
	for _, msg := range pending {
		if msg.Round > e.round {
			e.buffer = append(e.buffer, msg)
			continue
		}
		e.admitLocked(msg)
	}
	telemetry.BufferedMessages.WithLabelValues(e.label).Set(float64(len(e.buffer)))
}

type outbound struct {
	to  Member
	msg Message
}

// nextBroadcast snapshots the messages for the pending broadcast.
func (e *Engine) nextBroadcast() (int, []outbound, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || !e.initialized || !e.broadcastEnabled {
		return 0, nil, false
	}
	members := e.active.All()
	batch := make([]outbound, 0, len(members))
	for _, m := range members {
		batch = append(batch, outbound{to: m, msg: e.outboundLocked(m.ID)})
	}
	return e.round, batch, true
}

// broadcastFinished closes the barrier for round and re-checks completion,
// since every inbound message of the round may already be in.
func (e *Engine) broadcastFinished(round int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || round != e.round {
		return
	}
	e.broadcastEnabled = false
	e.log.Debug("broadcast complete", zap.Int("round", round))
	e.tryAdvanceLocked()
}
