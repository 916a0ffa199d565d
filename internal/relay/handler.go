package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// Handler upgrades requests to WebSocket subscribers. originPatterns
// follows websocket.AcceptOptions; an empty list allows only same-host
// origins.
func (h *Hub) Handler(originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			h.logger.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()

		// Subscribers never send anything meaningful; CloseRead handles
		// control frames and cancels ctx when the peer goes away.
		ctx := conn.CloseRead(r.Context())

		sub := h.Join()
		defer h.Leave(sub)

		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-sub.C():
				if !ok {
					if sub.Overflowed() {
						_ = conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
					} else {
						_ = conn.Close(websocket.StatusGoingAway, "relay stopped")
					}
					return
				}
				if err := write(ctx, conn, env); err != nil {
					h.logger.Debug("websocket write failed", zap.String("id", sub.ID), zap.Error(err))
					return
				}
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, env)
}
