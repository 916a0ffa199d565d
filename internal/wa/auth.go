package wa

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrPairingTimeout is returned when every pairing code of a round expired
// without a scan.
var ErrPairingTimeout = errors.New("pairing timed out")

// QR channel event names emitted by whatsmeow.
const (
	qrEventCode    = "code"
	qrEventSuccess = "success"
	qrEventTimeout = "timeout"
)

// Pair runs one pairing round. Each code the server issues goes to
// lc.OnPairingCodeIssued; a successful scan to lc.OnAuthenticated. A round
// that times out or fails reports lc.OnAuthFailure and returns an error.
// Readiness is reported separately by the Connected event.
func (a *Adapter) Pair(ctx context.Context, lc Lifecycle) error {
	qrChan, err := a.GetQRChannel(ctx)
	if err != nil {
		return err
	}

	// Connect must be called after GetQRChannel.
	if err := a.Connect(); err != nil {
		lc.OnAuthFailure(err.Error())
		return fmt.Errorf("connect for pairing: %w", err)
	}

	for item := range qrChan {
		switch item.Event {
		case qrEventCode:
			a.logger.Info("pairing code issued", zap.Duration("valid_for", item.Timeout))
			lc.OnPairingCodeIssued(item.Code)
		case qrEventSuccess:
			lc.OnAuthenticated()
			return nil
		case qrEventTimeout:
			lc.OnAuthFailure("pairing timeout")
			a.Disconnect()
			return ErrPairingTimeout
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			lc.OnAuthFailure(reason)
			a.Disconnect()
			return fmt.Errorf("pairing failed: %s", reason)
		}
	}

	// The channel closes without a terminal event when ctx ends.
	a.Disconnect()
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrPairingTimeout
}
