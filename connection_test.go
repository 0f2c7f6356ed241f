package iceconn

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gortc/iceconn/internal/testutil"
	"github.com/gortc/stun"
)

// pairedPort delivers everything SendTo is given straight into peer's
// OnReadPacket, synchronously -- Connection's network-sequence contract
// means no goroutine is needed to drive two Connections against each
// other in a test, the same way internal/server/server_test.go drives a
// Server against a plain net.UDPConn but simplified further since there
// is no real socket here.
type pairedPort struct {
	t     testing.TB
	clock *fakeClock
	peer  *Connection
}

func (p *pairedPort) SendTo(data []byte, addr Addr) (int, error) {
	if err := p.peer.OnReadPacket(p.clock.Now(), append([]byte(nil), data...)); err != nil {
		p.t.Logf("peer failed to handle packet: %v", err)
	}
	return len(data), nil
}

func (p *pairedPort) DestroyConnection(c *Connection) {}

func hostCandidate(ufrag, password string, ip byte, port int) Candidate {
	return Candidate{
		Addr:     Addr{IP: []byte{10, 0, 0, ip}, Port: port, Proto: ProtoUDP},
		Type:     CandidateHost,
		Priority: PriorityOf(TypePreference(CandidateHost), 65535, 1),
		Ufrag:    ufrag,
		Password: password,
	}
}

// newConnectionPair builds a controlling/controlled pair of Connections
// wired to each other via pairedPort, sharing a fakeClock.
func newConnectionPair(t testing.TB) (controlling, controlled *Connection, clock *fakeClock) {
	t.Helper()
	clock = newFakeClock(time.Unix(0, 0))

	aLocal := hostCandidate("aufrag123", "apassword1234567", 1, 10001)
	bLocal := hostCandidate("bufrag123", "bpassword1234567", 2, 10002)

	a := NewConnection(ConnectionOptions{
		ID:          1,
		Local:       aLocal,
		Remote:      bLocal,
		Controlling: true,
		TieBreaker:  1,
		Clock:       clock,
		Now:         clock.Now(),
	})
	b := NewConnection(ConnectionOptions{
		ID:          2,
		Local:       bLocal,
		Remote:      aLocal,
		Controlling: false,
		TieBreaker:  2,
		Clock:       clock,
		Now:         clock.Now(),
	})
	a.port = &pairedPort{t: t, clock: clock, peer: b}
	b.port = &pairedPort{t: t, clock: clock, peer: a}
	return a, b, clock
}

func TestConnectionFirstPingBringsUp(t *testing.T) {
	a, b, clock := newConnectionPair(t)
	a.SetNomination(1)

	if err := a.Ping(clock.Now()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	if a.RTTSamples() != 1 {
		t.Fatalf("RTTSamples() = %d, want 1 after the response round-trips synchronously", a.RTTSamples())
	}
	if a.WriteState() != WriteWritable {
		t.Errorf("a.WriteState() = %s, want %s", a.WriteState(), WriteWritable)
	}
	if !a.Nominated() {
		t.Error("expected the controlling side to be nominated after a USE-CANDIDATE ping succeeds")
	}
	if !b.Receiving() {
		t.Error("expected the controlled side to observe receiving traffic")
	}
	if !b.Nominated() {
		t.Error("expected the controlled side to observe the USE-CANDIDATE nomination")
	}
}

func TestConnectionLossThenRecovery(t *testing.T) {
	a, _, clock := newConnectionPair(t)

	// Use a black-hole port: sends succeed but nothing ever answers them,
	// so every ping piles up in pings_since_last_response.
	a.port = blackHolePort{}

	timeouts := DefaultWriteStateTimeouts()
	for i := 0; i < timeouts.ConnectFailures; i++ {
		if err := a.Ping(clock.Now()); err != nil {
			t.Fatalf("Ping() error = %v", err)
		}
	}

	clock.Advance(timeouts.ConnectTimeout + time.Second)
	a.UpdateState(clock.Now())

	if a.WriteState() != WriteTimeout {
		t.Fatalf("WriteState() = %s, want %s once %d pings go unanswered past the connect timeout",
			a.WriteState(), WriteTimeout, timeouts.ConnectFailures)
	}

	// Recovery: reattach to a live peer and ping again.
	_, b, _ := newConnectionPair(t)
	a.port = &pairedPort{t: t, clock: clock, peer: b}
	b.port = &pairedPort{t: t, clock: clock, peer: a}
	if err := a.Ping(clock.Now()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if a.WriteState() != WriteWritable {
		t.Errorf("WriteState() = %s, want %s once a response is received again", a.WriteState(), WriteWritable)
	}
}

type blackHolePort struct{}

func (blackHolePort) SendTo(data []byte, addr Addr) (int, error) { return len(data), nil }
func (blackHolePort) DestroyConnection(c *Connection)             {}

func TestConnectionRegularNomination(t *testing.T) {
	a, b, clock := newConnectionPair(t)
	a.SetUseCandidateAttr(false)
	a.SetNomination(0)

	if err := a.Ping(clock.Now()); err != nil {
		t.Fatal(err)
	}
	if a.Nominated() || b.Nominated() {
		t.Fatal("expected no nomination while USE-CANDIDATE is withheld")
	}

	a.SetUseCandidateAttr(true)
	a.SetNomination(1)
	clock.Advance(time.Second)
	if err := a.Ping(clock.Now()); err != nil {
		t.Fatal(err)
	}
	if !a.Nominated() {
		t.Error("expected controlling side nominated once USE-CANDIDATE is sent")
	}
	if !b.Nominated() {
		t.Error("expected controlled side to observe the nomination")
	}
}

// TestConnectionPiggybackDeltaAck exercises the full GOOG_DELTA /
// GOOG_DELTA_ACK round trip: a attaches GOOG_DELTA to its ping via a DTLS
// piggyback filler (the only outbound attribute-injection hook
// Connection exposes), b's DeltaConsumer computes an ack once
// IceFieldTrials.PiggybackAcks is set, and a's DeltaAckConsumer observes
// it on the response.
func TestConnectionPiggybackDeltaAck(t *testing.T) {
	a, b, clock := newConnectionPair(t)
	b.SetIceFieldTrials(IceFieldTrials{PiggybackAcks: true})

	a.SetDTLSPiggyback(func(m *stun.Message) error {
		return GoogDelta([]byte("delta")).AddTo(m)
	}, nil)

	var gotAck uint64
	var sawAck bool
	a.SetDeltaHooks(nil, func(ack uint64) {
		gotAck = ack
		sawAck = true
	})
	b.SetDeltaHooks(func(delta []byte) uint64 {
		return uint64(len(delta))
	}, nil)

	if err := a.Ping(clock.Now()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if !sawAck {
		t.Fatal("expected a's DeltaAckConsumer to observe a GOOG_DELTA_ACK")
	}
	if gotAck != uint64(len("delta")) {
		t.Errorf("gotAck = %d, want %d", gotAck, len("delta"))
	}
}

func TestConnectionRoleConflictInvokesHandler(t *testing.T) {
	a, b, clock := newConnectionPair(t)
	// Flip b to controlling too, so b's next request to a collides with
	// a's own controlling role.
	b.controlling = true

	var gotConflict *RoleConflictError
	a.SetRoleConflictHandler(func(rc *RoleConflictError) { gotConflict = rc })

	if err := b.Ping(clock.Now()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if gotConflict == nil {
		t.Fatal("expected a's role conflict handler to fire when b also claims controlling")
	}
}

func TestConnectionGoogPingElision(t *testing.T) {
	a, b, clock := newConnectionPair(t)
	a.SetGoogPingRemoteSupport(true)

	if err := a.Ping(clock.Now()); err != nil {
		t.Fatal(err)
	}
	if a.requests.Outstanding() != 0 {
		t.Fatalf("expected the first ping to resolve before sending a second")
	}

	clock.Advance(time.Second)
	if err := a.Ping(clock.Now()); err != nil {
		t.Fatal(err)
	}
	// The second ping has byte-identical intent to the first and the peer
	// has advertised GOOG_PING support, so it must have been elided --
	// observable indirectly via a successful round trip without b ever
	// raising an auth error, since GOOG_PING uses a distinct integrity
	// attribute that verifyRequest also knows how to check.
	if a.RTTSamples() != 2 {
		t.Fatalf("RTTSamples() = %d, want 2 successful round trips", a.RTTSamples())
	}
	if b.WriteState() == WriteTimeout {
		t.Error("GOOG_PING requests must still be answered like any other check")
	}
}

func TestConnectionShutdownIdempotent(t *testing.T) {
	a, _, _ := newConnectionPair(t)
	if !a.Shutdown() {
		t.Fatal("expected the first Shutdown() to report it performed the shutdown")
	}
	if a.Shutdown() {
		t.Error("expected a second Shutdown() to be a no-op")
	}
	if !a.PendingDelete() {
		t.Error("expected PendingDelete() once the port handle has been released")
	}
}

func TestConnectionForgetLearnedState(t *testing.T) {
	a, _, clock := newConnectionPair(t)
	a.SetNomination(1)
	if err := a.Ping(clock.Now()); err != nil {
		t.Fatal(err)
	}
	if a.RTTSamples() == 0 || a.WriteState() != WriteWritable {
		t.Fatal("test setup: expected learned state before ForgetLearnedState")
	}

	a.ForgetLearnedState()

	if a.RTTSamples() != 0 {
		t.Errorf("RTTSamples() = %d, want 0 after ForgetLearnedState", a.RTTSamples())
	}
	if a.WriteState() != WriteInit {
		t.Errorf("WriteState() = %s, want %s once no response has ever been received", a.WriteState(), WriteInit)
	}
	if a.requests.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0 after ForgetLearnedState cancels in-flight requests", a.requests.Outstanding())
	}
	// Nomination is intentionally left untouched: ForgetLearnedState only
	// scopes to write/receive state and in-flight requests.
	if !a.Nominated() {
		t.Error("expected Nominated() to survive ForgetLearnedState")
	}
}

// TestConnectionNoErrorLogsOnNormalOperation mirrors
// internal/server/integration_test.go's observer.New/EnsureNoErrors
// pattern: a first-ping bring-up and its resulting nomination should
// never reach ErrorLevel, only the Info/Debug levels SubscribeStateChange
// and the request manager use.
func TestConnectionNoErrorLogsOnNormalOperation(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	defer testutil.EnsureNoErrors(t, logs)

	clock := newFakeClock(time.Unix(0, 0))
	aLocal := hostCandidate("aufrag123", "apassword1234567", 1, 10001)
	bLocal := hostCandidate("bufrag123", "bpassword1234567", 2, 10002)
	a := NewConnection(ConnectionOptions{
		ID: 1, Local: aLocal, Remote: bLocal, Controlling: true, TieBreaker: 1,
		Clock: clock, Now: clock.Now(), Log: zap.New(core).Named("a"),
	})
	b := NewConnection(ConnectionOptions{
		ID: 2, Local: bLocal, Remote: aLocal, Controlling: false, TieBreaker: 2,
		Clock: clock, Now: clock.Now(), Log: zap.New(core).Named("b"),
	})
	a.port = &pairedPort{t: t, clock: clock, peer: b}
	b.port = &pairedPort{t: t, clock: clock, peer: a}

	a.SetNomination(1)
	if err := a.Ping(clock.Now()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if !a.Nominated() || !b.Nominated() {
		t.Fatal("test setup: expected nomination to complete before asserting on logs")
	}
}

// TestConnectionRejectsUnauthenticatedRequest checks that a request
// carrying the wrong password is answered with a 401 rather than
// silently dropped, and that the rejection is logged at WarnLevel rather
// than ErrorLevel -- matching verifyRequest's failure branch in
// connection_ping.go, which only returns ErrAuthFailed to its own caller.
func TestConnectionRejectsUnauthenticatedRequest(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	defer testutil.EnsureNoErrors(t, logs)

	clock := newFakeClock(time.Unix(0, 0))
	aLocal := hostCandidate("aufrag123", "apassword1234567", 1, 10001)
	bLocal := hostCandidate("bufrag123", "bpassword1234567", 2, 10002)

	a := NewConnection(ConnectionOptions{
		ID: 1, Local: aLocal, Remote: bLocal, Controlling: true, TieBreaker: 1,
		Clock: clock, Now: clock.Now(), Log: zap.New(core).Named("a"),
	})
	var aSent [][]byte
	a.port = &recordingPort{sent: &aSent}

	// b signs with the wrong password, so a's verifyRequest must reject it
	// -- BuildPingRequest signs with c.remote.Password, which is b's belief
	// about a's local password.
	bRemoteWrong := aLocal
	bRemoteWrong.Password = "wrong-password-wrong-password1"
	b := NewConnection(ConnectionOptions{
		ID: 2, Local: bLocal, Remote: bRemoteWrong, Controlling: false, TieBreaker: 2,
		Clock: clock, Now: clock.Now(),
	})
	var bSent [][]byte
	b.port = &recordingPort{sent: &bSent}

	if err := b.Ping(clock.Now()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if len(bSent) != 1 {
		t.Fatalf("got %d packets sent by b, want 1", len(bSent))
	}
	if err := a.OnReadPacket(clock.Now(), bSent[0]); err == nil {
		t.Fatal("OnReadPacket() error = nil, want a MESSAGE-INTEGRITY verification error")
	}
	if len(aSent) != 1 {
		t.Fatalf("got %d packets sent by a, want 1 (the 401 response)", len(aSent))
	}

	found := false
	for _, e := range logs.All() {
		if e.Level == zap.WarnLevel && e.Message == "rejecting stun request" {
			found = true
		}
	}
	if !found {
		t.Error("expected a WarnLevel log entry for the rejected request")
	}
}

type recordingPort struct {
	sent *[][]byte
}

func (p *recordingPort) SendTo(data []byte, addr Addr) (int, error) {
	*p.sent = append(*p.sent, append([]byte(nil), data...))
	return len(data), nil
}

func (p *recordingPort) DestroyConnection(c *Connection) {}

func TestConnectionStatsSnapshot(t *testing.T) {
	a, _, clock := newConnectionPair(t)
	if err := a.Ping(clock.Now()); err != nil {
		t.Fatal(err)
	}
	stats := a.Stats(clock.Now())
	if stats.RTTSamples != 1 {
		t.Errorf("Stats().RTTSamples = %d, want 1", stats.RTTSamples)
	}
	if stats.NumPingsSent != 1 {
		t.Errorf("Stats().NumPingsSent = %d, want 1", stats.NumPingsSent)
	}
	if stats.TotalBytesSent == 0 {
		t.Error("expected Stats().TotalBytesSent to reflect the sent Binding request")
	}
}
