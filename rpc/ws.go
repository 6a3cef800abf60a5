package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"bountychain/core/types"
	"bountychain/observability"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBufferSize   = 128
)

// handleEventsWS streams committed events to a websocket client. The optional
// "types" query parameter restricts the stream to a comma-separated list of
// event types.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	filter := parseTypeFilter(r.URL.Query().Get("types"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Debug("event stream ended",
				slog.String("request_id", RequestIDFromContext(r.Context())),
				slog.String("error", err.Error()))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter map[string]struct{}) error {
	feed := s.node.Events()
	updates, cancel := feed.Subscribe(wsBufferSize)
	metrics := observability.Events()
	metrics.SetSubscribers(feed.Subscribers())
	defer func() {
		cancel()
		metrics.SetSubscribers(feed.Subscribers())
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			s.recordDropped()
			if len(filter) > 0 {
				if _, want := filter[evt.Type]; !want {
					continue
				}
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

// recordDropped forwards any new feed drops to the event metrics.
func (s *Server) recordDropped() {
	total := s.node.Events().Dropped()
	previous := s.lastDropped.Swap(total)
	if total > previous {
		observability.Events().AddDropped(total - previous)
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func parseTypeFilter(raw string) map[string]struct{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out[trimmed] = struct{}{}
		}
	}
	return out
}
