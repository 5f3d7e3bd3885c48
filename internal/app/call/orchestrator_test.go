package call

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
	"github.com/echo-project/echo-signal/internal/wire"
)

// fakePeers records deliveries per connection instead of hitting sockets.
type fakePeers struct {
	mu     sync.Mutex
	frames map[core.SessionID][]core.Frame
	users  map[core.SessionID]*domain.User
	rooms  map[domain.RoomName][]core.SessionID
}

func newFakePeers() *fakePeers {
	return &fakePeers{
		frames: make(map[core.SessionID][]core.Frame),
		users:  make(map[core.SessionID]*domain.User),
		rooms:  make(map[domain.RoomName][]core.SessionID),
	}
}

func (p *fakePeers) add(sid core.SessionID, name string, room domain.RoomName) {
	p.users[sid] = &domain.User{Username: name}
	p.rooms[room] = append(p.rooms[room], sid)
}

func (p *fakePeers) Send(sid core.SessionID, frame core.Frame) bool {
	p.mu.Lock()
	p.frames[sid] = append(p.frames[sid], frame)
	p.mu.Unlock()
	return true
}

func (p *fakePeers) Broadcast(room domain.RoomName, frame core.Frame, except core.SessionID) int {
	sent := 0
	for _, sid := range p.rooms[room] {
		if sid == except {
			continue
		}
		p.Send(sid, frame)
		sent++
	}
	return sent
}

func (p *fakePeers) Lookup(sid core.SessionID) (*domain.User, bool) {
	u, ok := p.users[sid]
	return u, ok
}

// lastFrame decodes the most recent frame sent to sid into v.
func (p *fakePeers) lastFrame(t *testing.T, sid core.SessionID, v any) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	frames := p.frames[sid]
	if len(frames) == 0 {
		t.Fatalf("no frames delivered to %s", sid)
	}
	if err := json.Unmarshal(frames[len(frames)-1], v); err != nil {
		t.Fatalf("decode frame to %s: %v", sid, err)
	}
}

func (p *fakePeers) frameCount(sid core.SessionID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames[sid])
}

func newTestOrchestrator() (*Orchestrator, *fakePeers) {
	peers := newFakePeers()
	peers.add("alice", "alice", "")
	peers.add("bob", "bob", "")
	peers.add("carol", "carol", "")
	// Long timeout so tests drive onRingTimeout by hand.
	return NewOrchestrator(peers, NewLog(16), time.Hour), peers
}

func TestInviteRingsCallee(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")

	state, _, ok := o.SessionState("c1")
	if !ok || state != StateRinging {
		t.Fatalf("state = %v, %v; want ringing", state, ok)
	}
	var invite wire.CallInvite
	peers.lastFrame(t, "bob", &invite)
	if invite.Type != wire.TypeCallInvite || invite.CallID != "c1" || invite.From != "alice" || invite.Name != "alice" {
		t.Fatalf("invite = %+v", invite)
	}
}

func TestInviteBusyCallee(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.Invite("carol", "c2", domain.CallKindVideo, "bob", "")

	if _, _, ok := o.SessionState("c2"); ok {
		t.Fatal("busy invite created a session")
	}
	var busy wire.CallRef
	peers.lastFrame(t, "carol", &busy)
	if busy.Type != wire.TypeCallBusy || busy.CallID != "c2" || busy.From != "bob" {
		t.Fatalf("busy = %+v", busy)
	}

	entries := o.Log().Recent(1)
	if len(entries) != 1 || entries[0].Outcome != domain.CallOutcomeBusy || entries[0].EndedAt == nil {
		t.Fatalf("log entry = %+v; want finalized busy", entries)
	}

	// The committed caller is just as busy as the committed callee.
	o.Invite("alice", "c3", domain.CallKindAudio, "carol", "")
	if _, _, ok := o.SessionState("c3"); ok {
		t.Fatal("ringing caller started a second call")
	}
}

func TestJoinAcceptsRingingCall(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.Join("c1", "bob")

	state, parts, ok := o.SessionState("c1")
	if !ok || state != StateActive {
		t.Fatalf("state = %v; want active", state)
	}
	if len(parts) != 2 {
		t.Fatalf("participants = %v; want both sides", parts)
	}
	var roster wire.CallRoster
	peers.lastFrame(t, "alice", &roster)
	if roster.Type != wire.TypeCallJoin || roster.CallID != "c1" || len(roster.Participants) != 2 {
		t.Fatalf("roster = %+v", roster)
	}
}

func TestDeclineAndRelease(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.End("c1", "bob")

	if _, _, ok := o.SessionState("c1"); ok {
		t.Fatal("declined session still live")
	}
	var end wire.Signal
	peers.lastFrame(t, "alice", &end)
	if end.Type != wire.TypeEnd || end.Reason != string(domain.CallOutcomeDeclined) {
		t.Fatalf("end = %+v; want declined", end)
	}
	entries := o.Log().Recent(1)
	if entries[0].Outcome != domain.CallOutcomeDeclined {
		t.Fatalf("log outcome = %v; want declined", entries[0].Outcome)
	}

	// Both sides are released for new calls.
	o.Invite("carol", "c2", domain.CallKindAudio, "bob", "")
	if state, _, ok := o.SessionState("c2"); !ok || state != StateRinging {
		t.Fatal("callee still committed after decline")
	}
}

func TestCancelNotifiesCallee(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.End("c1", "alice")

	var end wire.Signal
	peers.lastFrame(t, "bob", &end)
	if end.Type != wire.TypeEnd || end.Reason != string(domain.CallOutcomeCanceled) {
		t.Fatalf("end = %+v; want canceled", end)
	}
	if entries := o.Log().Recent(1); entries[0].Outcome != domain.CallOutcomeCanceled {
		t.Fatalf("log outcome = %v; want canceled", entries[0].Outcome)
	}
}

func TestRingTimeoutIsIdempotent(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.onRingTimeout("c1")

	if _, _, ok := o.SessionState("c1"); ok {
		t.Fatal("missed session still live")
	}
	for _, sid := range []core.SessionID{"alice", "bob"} {
		var end wire.Signal
		peers.lastFrame(t, sid, &end)
		if end.Type != wire.TypeEnd || end.Reason != string(domain.CallOutcomeMissed) {
			t.Fatalf("end to %s = %+v; want missed", sid, end)
		}
	}
	if entries := o.Log().Recent(1); entries[0].Outcome != domain.CallOutcomeMissed {
		t.Fatalf("log outcome = %v; want missed", entries[0].Outcome)
	}

	// A late timer fire and a stale Join are both no-ops.
	before := peers.frameCount("alice")
	o.onRingTimeout("c1")
	o.Join("c1", "bob")
	if peers.frameCount("alice") != before {
		t.Fatal("terminated call produced more frames")
	}
}

func TestTimeoutDoesNotOverwriteAnswer(t *testing.T) {
	o, _ := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.Join("c1", "bob")
	o.onRingTimeout("c1")

	if state, _, ok := o.SessionState("c1"); !ok || state != StateActive {
		t.Fatalf("state = %v, %v; want still active", state, ok)
	}
}

func TestDisconnectWhileRingingDeclines(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.Disconnect("bob")

	if _, _, ok := o.SessionState("c1"); ok {
		t.Fatal("session survived callee disconnect")
	}
	var end wire.Signal
	peers.lastFrame(t, "alice", &end)
	if end.Reason != string(domain.CallOutcomeDeclined) {
		t.Fatalf("end = %+v; want declined", end)
	}
}

func TestDisconnectFromActiveCall(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.Join("c1", "bob")
	o.Disconnect("alice")

	// bob is the last participant; his leave drains the session.
	var roster wire.CallRoster
	peers.lastFrame(t, "bob", &roster)
	if roster.Type != wire.TypeCallLeave || roster.Left != "alice" {
		t.Fatalf("roster = %+v; want alice's leave", roster)
	}
	o.Disconnect("bob")
	if _, _, ok := o.SessionState("c1"); ok {
		t.Fatal("drained session still live")
	}
	entries := o.Log().Recent(1)
	if entries[0].Outcome != domain.CallOutcomeAnswered {
		t.Fatalf("log outcome = %v; answered must survive the hangup", entries[0].Outcome)
	}
	if entries[0].EndedAt == nil {
		t.Fatal("drained session logged without an end time")
	}

	// alice is free to call again immediately.
	o.Invite("alice", "c2", domain.CallKindAudio, "carol", "")
	if state, _, ok := o.SessionState("c2"); !ok || state != StateRinging {
		t.Fatal("disconnected caller still committed")
	}
}

func TestMeshInviteAndRoster(t *testing.T) {
	o, peers := newTestOrchestrator()
	peers.rooms["red"] = []core.SessionID{"alice", "bob", "carol"}

	o.Invite("alice", "m1", domain.CallKindVideo, "", "red")

	if state, _, ok := o.SessionState("m1"); !ok || state != StateInviting {
		t.Fatalf("state = %v; want inviting", state)
	}
	var invite wire.CallInvite
	peers.lastFrame(t, "bob", &invite)
	if invite.Room != "red" || invite.From != "alice" {
		t.Fatalf("invite = %+v", invite)
	}
	if peers.frameCount("alice") != 0 {
		t.Fatal("initiator received its own mesh invite")
	}

	o.Join("m1", "alice")
	o.Join("m1", "bob")
	o.Join("m1", "carol")

	state, parts, _ := o.SessionState("m1")
	if state != StateActive || len(parts) != 3 {
		t.Fatalf("state = %v, participants = %v", state, parts)
	}
	var roster wire.CallRoster
	peers.lastFrame(t, "alice", &roster)
	if roster.Joined != "carol" || len(roster.Participants) != 3 {
		t.Fatalf("roster = %+v", roster)
	}

	o.Disconnect("bob")
	peers.lastFrame(t, "carol", &roster)
	if roster.Type != wire.TypeCallLeave || roster.Left != "bob" || len(roster.Participants) != 2 {
		t.Fatalf("roster = %+v", roster)
	}
	if state, _, ok := o.SessionState("m1"); !ok || state != StateActive {
		t.Fatalf("state after disconnect = %v, %v; want still active", state, ok)
	}

	o.Leave("m1", "alice")
	o.Leave("m1", "carol")
	if _, _, ok := o.SessionState("m1"); ok {
		t.Fatal("drained mesh session still live")
	}
}

func TestMeshInviteFromBusyInitiator(t *testing.T) {
	o, peers := newTestOrchestrator()
	peers.rooms["red"] = []core.SessionID{"alice", "bob", "carol"}

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.Join("c1", "bob")

	// Mid-call alice tries to open a mesh call; she stays committed to c1.
	o.Invite("alice", "m1", domain.CallKindVideo, "", "red")

	if _, _, ok := o.SessionState("m1"); ok {
		t.Fatal("busy initiator opened a mesh session")
	}
	var busy wire.CallRef
	peers.lastFrame(t, "alice", &busy)
	if busy.Type != wire.TypeCallBusy || busy.CallID != "m1" {
		t.Fatalf("busy = %+v", busy)
	}
	if entries := o.Log().Recent(1); entries[0].Outcome != domain.CallOutcomeBusy {
		t.Fatalf("log outcome = %v; want busy", entries[0].Outcome)
	}

	// Her disconnect still cascades into c1, not the rejected mesh call.
	o.Disconnect("alice")
	state, parts, ok := o.SessionState("c1")
	if ok {
		for _, p := range parts {
			if p == "alice" {
				t.Fatalf("alice still in c1 after disconnect: state=%v parts=%v", state, parts)
			}
		}
	}
}

func TestCallerSelfJoinDoesNotAnswer(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.Join("c1", "alice")

	state, parts, ok := o.SessionState("c1")
	if !ok || state != StateRinging || len(parts) != 0 {
		t.Fatalf("state = %v, parts = %v; caller join must not accept the call", state, parts)
	}

	// The unanswered ring can still time out as missed.
	o.onRingTimeout("c1")
	if _, _, ok := o.SessionState("c1"); ok {
		t.Fatal("missed session still live")
	}
	entries := o.Log().Recent(1)
	if entries[0].Outcome != domain.CallOutcomeMissed || entries[0].EndedAt == nil {
		t.Fatalf("entry = %+v; want finalized missed", entries[0])
	}

	// Both sides are released.
	o.Invite("carol", "c2", domain.CallKindAudio, "bob", "")
	if state, _, ok := o.SessionState("c2"); !ok || state != StateRinging {
		t.Fatal("callee still committed after the missed call")
	}
	var end wire.Signal
	peers.lastFrame(t, "alice", &end)
	if end.Reason != string(domain.CallOutcomeMissed) {
		t.Fatalf("end = %+v; want missed", end)
	}
}

func TestLeaveReleasesCommittedNonParticipant(t *testing.T) {
	o, _ := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.Join("c1", "bob")

	o.mu.Lock()
	o.byConn["carol"] = "c1"
	o.mu.Unlock()

	o.Leave("c1", "carol")
	o.mu.Lock()
	_, committed := o.byConn["carol"]
	o.mu.Unlock()
	if committed {
		t.Fatal("non-participant still committed after leave")
	}
	if state, parts, ok := o.SessionState("c1"); !ok || state != StateActive || len(parts) != 2 {
		t.Fatalf("state = %v, parts = %v; the call itself must be untouched", state, parts)
	}
}

func TestEndAllDuringRing(t *testing.T) {
	o, _ := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.EndAll("c1", "alice")
	if entries := o.Log().Recent(1); entries[0].Outcome != domain.CallOutcomeCanceled {
		t.Fatalf("log outcome = %v; caller endAll on a ring is a cancel", entries[0].Outcome)
	}

	o.Invite("alice", "c2", domain.CallKindAudio, "bob", "")
	o.EndAll("c2", "bob")
	if entries := o.Log().Recent(1); entries[0].Outcome != domain.CallOutcomeDeclined {
		t.Fatalf("log outcome = %v; callee endAll on a ring is a decline", entries[0].Outcome)
	}
}

func TestEndAllTearsDownSession(t *testing.T) {
	o, peers := newTestOrchestrator()
	peers.rooms["red"] = []core.SessionID{"alice", "bob", "carol"}

	o.Invite("alice", "m1", domain.CallKindVideo, "", "red")
	o.Join("m1", "alice")
	o.Join("m1", "bob")
	o.Join("m1", "carol")

	o.EndAll("m1", "alice")
	if _, _, ok := o.SessionState("m1"); ok {
		t.Fatal("session survived endAll")
	}
	for _, sid := range []core.SessionID{"bob", "carol"} {
		var end wire.Signal
		peers.lastFrame(t, sid, &end)
		if end.Type != wire.TypeEnd || end.Reason != "ended" {
			t.Fatalf("end to %s = %+v", sid, end)
		}
	}
}

func TestRelaySignalBusyOnFreshOffer(t *testing.T) {
	o, peers := newTestOrchestrator()

	// alice and bob are mid-call; an unrelated offer to alice draws busy
	// instead of ringing her.
	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.Join("c1", "bob")
	before := peers.frameCount("alice")

	o.RelaySignal("carol", wire.Signal{Type: wire.TypeOffer, CallID: "c2", To: "alice"})

	var busy wire.CallRef
	peers.lastFrame(t, "carol", &busy)
	if busy.Type != wire.TypeCallBusy || busy.CallID != "c2" {
		t.Fatalf("busy = %+v", busy)
	}
	if peers.frameCount("alice") != before {
		t.Fatal("busy peer still received the offer")
	}
	if entries := o.Log().Recent(1); entries[0].Outcome != domain.CallOutcomeBusy {
		t.Fatalf("log outcome = %v; want busy", entries[0].Outcome)
	}
}

func TestRingTimeoutEndToEnd(t *testing.T) {
	peers := newFakePeers()
	peers.add("alice", "alice", "")
	peers.add("bob", "bob", "")
	o := NewOrchestrator(peers, NewLog(8), 20*time.Millisecond)

	o.Invite("alice", "c1", domain.CallKindVideo, "bob", "")

	deadline := time.Now().Add(2 * time.Second)
	for peers.frameCount("alice") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ring never timed out")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, _, ok := o.SessionState("c1"); ok {
		t.Fatal("missed session still live")
	}

	var end wire.Signal
	peers.lastFrame(t, "alice", &end)
	if end.Type != wire.TypeEnd || end.CallID != "c1" || end.Reason != string(domain.CallOutcomeMissed) {
		t.Fatalf("end = %+v; want missed for c1", end)
	}
	entries := o.Log().Recent(0)
	if len(entries) != 1 {
		t.Fatalf("log has %d entries; want exactly one for c1", len(entries))
	}
	if entries[0].CallID != "c1" || entries[0].Outcome != domain.CallOutcomeMissed || entries[0].EndedAt == nil {
		t.Fatalf("entry = %+v; want finalized missed", entries[0])
	}
}

func TestRelaySignalAnswerAccepts(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.RelaySignal("bob", wire.Signal{Type: wire.TypeAnswer, CallID: "c1"})

	state, parts, _ := o.SessionState("c1")
	if state != StateActive || len(parts) != 2 {
		t.Fatalf("state = %v, participants = %v; want active pair", state, parts)
	}
	var sig wire.Signal
	peers.lastFrame(t, "alice", &sig)
	if sig.Type != wire.TypeAnswer || sig.From != "bob" {
		t.Fatalf("relayed = %+v", sig)
	}
}

func TestRelaySignalRoutesWithinSession(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.RelaySignal("alice", wire.Signal{Type: wire.TypeICE, CallID: "c1"})

	var sig wire.Signal
	peers.lastFrame(t, "bob", &sig)
	if sig.Type != wire.TypeICE || sig.From != "alice" {
		t.Fatalf("relayed = %+v", sig)
	}
}

func TestUpgradeFlow(t *testing.T) {
	o, peers := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.Join("c1", "bob")

	o.Upgrade("c1", "alice", domain.CallKindVideo)
	var req wire.CallUpgrade
	peers.lastFrame(t, "bob", &req)
	if req.Type != wire.TypeCallUpgrade || req.Kind != domain.CallKindVideo {
		t.Fatalf("upgrade request = %+v", req)
	}
	if kind, _ := o.Kind("c1"); kind != domain.CallKindAudio {
		t.Fatalf("kind changed to %v before acceptance", kind)
	}

	o.UpgradeResponse("c1", "bob", true)
	if kind, _ := o.Kind("c1"); kind != domain.CallKindVideo {
		t.Fatalf("kind = %v after acceptance; want video", kind)
	}
	var resp wire.CallUpgrade
	peers.lastFrame(t, "alice", &resp)
	if resp.Type != wire.TypeCallUpgradeResponse || !resp.Accept || resp.Kind != domain.CallKindVideo {
		t.Fatalf("upgrade response = %+v", resp)
	}
}

func TestUpgradeDeclinedKeepsKind(t *testing.T) {
	o, _ := newTestOrchestrator()

	o.Invite("alice", "c1", domain.CallKindAudio, "bob", "")
	o.Join("c1", "bob")
	o.Upgrade("c1", "alice", domain.CallKindVideo)
	o.UpgradeResponse("c1", "bob", false)

	if kind, _ := o.Kind("c1"); kind != domain.CallKindAudio {
		t.Fatalf("kind = %v after decline; want audio", kind)
	}
}
