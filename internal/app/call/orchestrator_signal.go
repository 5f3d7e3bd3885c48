package call

import (
	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
	"github.com/echo-project/echo-signal/internal/wire"
)

// RelaySignal routes a webrtc:offer/answer/ice payload. The payload is
// opaque beyond its routing fields: within a known session it is relayed
// verbatim (a matching callId/peer pair is a renegotiation and touches no
// membership); a fresh offer to a committed target draws call:busy; a
// payload addressed to nobody known is dropped silently, so a sender
// cannot tell "peer gone" from "peer ignoring".
func (o *Orchestrator) RelaySignal(from core.SessionID, sig wire.Signal) {
	sig.From = from

	o.mu.Lock()
	sess, known := o.sessions[sig.CallID]

	if !known {
		// Pre-session offer (client dials by offer rather than invite).
		if sig.Type != wire.TypeOffer || sig.To == "" {
			o.mu.Unlock()
			return
		}
		if o.busyOther(sig.To, sig.CallID) || o.busyOther(from, sig.CallID) {
			now := o.now()
			o.log.Record(Entry{
				CallID: sig.CallID, Initiator: from, Target: sig.To,
				Outcome: domain.CallOutcomeBusy, StartedAt: now, EndedAt: &now,
			})
			o.mu.Unlock()
			log.Info().Str("module", "app.call").Str("call", string(sig.CallID)).
				Str("from", string(from)).Str("to", string(sig.To)).Msg("offer to busy peer")
			o.send(from, wire.CallRef{Type: wire.TypeCallBusy, CallID: sig.CallID, From: sig.To})
			return
		}
		to := sig.To
		o.mu.Unlock()
		o.send(to, sig)
		return
	}

	// Callee answering an unanswered 1:1 ring is the acceptance.
	accepted := false
	if !sess.Mesh && sess.State == StateRinging && sig.Type == wire.TypeAnswer && from == sess.Target {
		sess.stopRingTimer()
		sess.State = StateActive
		sess.StartedAt = o.now()
		sess.Outcome = domain.CallOutcomeAnswered
		sess.addParticipant(sess.Initiator)
		sess.addParticipant(sess.Target)
		accepted = true
	}

	var targets []core.SessionID
	switch {
	case sig.To != "":
		targets = []core.SessionID{sig.To}
	case sess.Mesh:
		for _, p := range sess.Participants {
			if p != from {
				targets = append(targets, p)
			}
		}
	case from == sess.Initiator:
		targets = []core.SessionID{sess.Target}
	default:
		targets = []core.SessionID{sess.Initiator}
	}
	o.mu.Unlock()

	if accepted {
		log.Info().Str("module", "app.call").Str("call", string(sig.CallID)).Msg("call answered")
	}
	for _, to := range targets {
		o.send(to, sig)
	}
}

// Upgrade proposes switching an active call's kind (audio→video). The
// proposal is relayed; the session kind only changes on an accepting
// response.
func (o *Orchestrator) Upgrade(callID domain.CallID, from core.SessionID, kind domain.CallKind) {
	if !kind.Valid() {
		return
	}
	o.mu.Lock()
	sess, ok := o.sessions[callID]
	if !ok || sess.State != StateActive || !sess.isParticipant(from) {
		o.mu.Unlock()
		return
	}
	sess.pendingKind = kind
	targets := o.othersLocked(sess, from)
	o.mu.Unlock()

	req := wire.CallUpgrade{Type: wire.TypeCallUpgrade, CallID: callID, From: from, Kind: kind}
	for _, to := range targets {
		o.send(to, req)
	}
}

// UpgradeResponse resolves a pending upgrade proposal.
func (o *Orchestrator) UpgradeResponse(callID domain.CallID, from core.SessionID, accept bool) {
	o.mu.Lock()
	sess, ok := o.sessions[callID]
	if !ok || !sess.isParticipant(from) || sess.pendingKind == "" {
		o.mu.Unlock()
		return
	}
	if accept {
		sess.Kind = sess.pendingKind
	}
	kind := sess.Kind
	sess.pendingKind = ""
	targets := o.othersLocked(sess, from)
	o.mu.Unlock()

	log.Info().Str("module", "app.call").Str("call", string(callID)).
		Bool("accept", accept).Str("kind", string(kind)).Msg("upgrade resolved")
	resp := wire.CallUpgrade{Type: wire.TypeCallUpgradeResponse, CallID: callID, From: from, Accept: accept, Kind: kind}
	for _, to := range targets {
		o.send(to, resp)
	}
}

// othersLocked lists every participant except sid. Callers hold o.mu.
func (o *Orchestrator) othersLocked(sess *Session, sid core.SessionID) []core.SessionID {
	out := make([]core.SessionID, 0, len(sess.Participants))
	for _, p := range sess.Participants {
		if p != sid {
			out = append(out, p)
		}
	}
	return out
}

// Kind reports a live session's current media kind.
func (o *Orchestrator) Kind(callID domain.CallID) (domain.CallKind, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.sessions[callID]; ok {
		return sess.Kind, true
	}
	return "", false
}
