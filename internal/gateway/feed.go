package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const feedWriteTimeout = 5 * time.Second

// handleAuditFeed streams audit records to a WebSocket client as they are
// written. The feed is one-way; a client that reads too slowly loses
// records rather than slowing invocations down.
func (g *Gateway) handleAuditFeed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("gateway: websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		records, cancel := g.services.Feed.Subscribe(g.config.FeedBuffer)
		defer cancel()

		// Nothing is read from the client; CloseRead handles control frames
		// and cancels ctx when the client goes away.
		ctx := conn.CloseRead(r.Context())
		g.logger.Debug("gateway: audit feed client connected", "remote_addr", r.RemoteAddr)

		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-records:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "feed closed")
					return
				}
				data, err := json.Marshal(rec)
				if err != nil {
					continue
				}
				writeCtx, cancelWrite := context.WithTimeout(ctx, feedWriteTimeout)
				err = conn.Write(writeCtx, websocket.MessageText, data)
				cancelWrite()
				if err != nil {
					return
				}
			}
		}
	}
}
