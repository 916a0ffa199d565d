package wa

import (
	"context"
	"errors"
	"time"

	"github.com/bayup/wabridge/internal/bus"
	"go.uber.org/zap"
)

// DefaultPairingRetry is the pause between failed pairing rounds.
const DefaultPairingRetry = 5 * time.Second

// Session is the part of the adapter the supervisor drives.
type Session interface {
	IsLoggedIn() bool
	Connect() error
	Disconnect()
	Pair(ctx context.Context, lc Lifecycle) error
	Reset(ctx context.Context) error
}

// Supervisor keeps the session linked: it connects stored credentials,
// runs pairing rounds while there are none, and starts over after a
// logout.
type Supervisor struct {
	session Session
	lc      Lifecycle
	bus     *bus.Bus
	retry   time.Duration
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor creates a supervisor. retry <= 0 uses DefaultPairingRetry.
func NewSupervisor(s Session, lc Lifecycle, b *bus.Bus, retry time.Duration, logger *zap.Logger) *Supervisor {
	if retry <= 0 {
		retry = DefaultPairingRetry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		session: s,
		lc:      lc,
		bus:     b,
		retry:   retry,
		logger:  logger,
	}
}

// Start runs the supervision loop in the background.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	loggedOut, unsub := s.bus.Subscribe(bus.KindLoggedOut, 4)

	go func() {
		defer close(s.done)
		defer unsub()
		s.run(ctx, loggedOut)
	}()
}

// Stop ends the loop and disconnects the session.
func (s *Supervisor) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.session.Disconnect()
}

func (s *Supervisor) run(ctx context.Context, loggedOut <-chan bus.Event) {
	for ctx.Err() == nil {
		if s.session.IsLoggedIn() {
			if err := s.session.Connect(); err != nil {
				s.logger.Warn("connect failed", zap.Error(err))
				s.lc.OnSessionDrop(err.Error())
				if !s.sleep(ctx) {
					return
				}
				continue
			}
		} else {
			err := s.session.Pair(ctx, s.lc)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Info("pairing round ended", zap.Error(err))
				if !s.sleep(ctx) {
					return
				}
				continue
			}
		}

		// Linked. whatsmeow reconnects on its own from here; only a logout
		// brings us back to pairing.
		select {
		case <-ctx.Done():
			return
		case evt := <-loggedOut:
			s.logger.Warn("session logged out, restarting pairing", zap.Any("reason", evt.Payload))
			if err := s.session.Reset(ctx); err != nil {
				s.logger.Error("failed to reset device", zap.Error(err))
				if !s.sleep(ctx) {
					return
				}
			}
		}
	}
}

func (s *Supervisor) sleep(ctx context.Context) bool {
	t := time.NewTimer(s.retry)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
