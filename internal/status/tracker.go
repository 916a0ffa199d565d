package status

import (
	"slices"
	"sync"
	"time"

	"github.com/bayup/wabridge/internal/bus"
	"github.com/bayup/wabridge/internal/pairing"
	"go.uber.org/zap"
)

// State is the connection state of the linked WhatsApp session.
type State string

const (
	Disconnected State = "disconnected"
	AwaitingScan State = "awaiting_scan"
	Ready        State = "ready"
)

// Cause names the session event that produced a change.
type Cause string

const (
	CausePairingIssued Cause = "pairing_issued"
	CauseSessionReady  Cause = "session_ready"
	CauseAuthFailure   Cause = "auth_failure"
	CauseSessionDrop   Cause = "session_drop"
)

// canonical lists the transitions the session normally produces. Anything
// else is still applied; it is only logged.
var canonical = map[State][]State{
	Disconnected: {AwaitingScan},
	AwaitingScan: {AwaitingScan, Ready, Disconnected},
	Ready:        {Disconnected},
}

// Renderer turns a raw pairing payload into an artifact.
type Renderer interface {
	Render(code string) (*pairing.Artifact, error)
}

// ArtifactSink receives every issued artifact on a best-effort basis.
type ArtifactSink interface {
	Store(a *pairing.Artifact) error
}

// Change is the payload of session.status_changed events.
type Change struct {
	From     State
	To       State
	Cause    Cause
	Reason   string
	Artifact *pairing.Artifact
	Seq      uint64
}

// Snapshot is a consistent read of the tracker.
type Snapshot struct {
	State    State
	Artifact *pairing.Artifact
	Seq      uint64
}

// Tracker owns the connection state and the current pairing artifact.
// Only session lifecycle events move it.
type Tracker struct {
	mu       sync.RWMutex
	state    State
	artifact *pairing.Artifact
	seq      uint64

	bus      *bus.Bus
	renderer Renderer
	sink     ArtifactSink
	logger   *zap.Logger
}

// NewTracker creates a tracker in the Disconnected state. bus, sink and
// logger may be nil.
func NewTracker(b *bus.Bus, r Renderer, sink ArtifactSink, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if r == nil {
		r = pairing.NewRenderer(pairing.DefaultSize)
	}
	return &Tracker{
		state:    Disconnected,
		bus:      b,
		renderer: r,
		sink:     sink,
		logger:   logger,
	}
}

// Current returns the current state.
func (t *Tracker) Current() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Artifact returns the current pairing artifact, or nil.
func (t *Tracker) Artifact() *pairing.Artifact {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.artifact
}

// Snapshot returns state, artifact and sequence number read together.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{State: t.state, Artifact: t.artifact, Seq: t.seq}
}

// OnPairingCodeIssued renders raw and moves to AwaitingScan. A render
// failure still moves the state; the artifact stays absent.
func (t *Tracker) OnPairingCodeIssued(raw string) {
	a, err := t.renderer.Render(raw)
	if err != nil {
		t.logger.Error("failed to render pairing code", zap.Error(err))
		a = nil
	}

	t.apply(AwaitingScan, CausePairingIssued, "", a)
	t.logger.Info("pairing code issued, waiting for scan")

	if a != nil && t.sink != nil {
		if err := t.sink.Store(a); err != nil {
			t.logger.Warn("failed to persist pairing code", zap.Error(err))
		}
	}
}

// OnAuthenticated records that the scan was accepted. The state does not
// change until the session reports ready.
func (t *Tracker) OnAuthenticated() {
	t.logger.Info("session authenticated")
}

// OnSessionReady moves to Ready and clears the artifact. Calling it while
// already Ready does nothing.
func (t *Tracker) OnSessionReady() {
	if t.apply(Ready, CauseSessionReady, "", nil) {
		t.logger.Info("session ready")
	}
}

// OnAuthFailure moves to Disconnected and clears the artifact.
func (t *Tracker) OnAuthFailure(reason string) {
	if t.apply(Disconnected, CauseAuthFailure, reason, nil) {
		t.logger.Warn("session auth failure", zap.String("reason", reason))
	}
}

// OnSessionDrop moves to Disconnected after an established or pending
// session is lost.
func (t *Tracker) OnSessionDrop(reason string) {
	if t.apply(Disconnected, CauseSessionDrop, reason, nil) {
		t.logger.Warn("session dropped", zap.String("reason", reason))
	}
}

// apply stores the new state and publishes the change while holding the
// lock, so bus order matches transition order. It reports whether anything
// changed.
func (t *Tracker) apply(to State, cause Cause, reason string, a *pairing.Artifact) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.state
	// Re-issuing a code is a change even within AwaitingScan; arriving at a
	// state we already hold with nothing to clear is not.
	if from == to && cause != CausePairingIssued && t.artifact == nil {
		return false
	}
	if !isCanonical(from, to) {
		t.logger.Debug("non-canonical transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("cause", string(cause)))
	}

	t.state = to
	t.artifact = a
	t.seq++

	if t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: Change{
				From:     from,
				To:       to,
				Cause:    cause,
				Reason:   reason,
				Artifact: a,
				Seq:      t.seq,
			},
		})
	}
	return true
}

func isCanonical(from, to State) bool {
	return slices.Contains(canonical[from], to)
}
