package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tthsd/tthsd/internal/utils"
)

// WebSocketSink delivers events as one text frame per event,
// `{"event":…,"data":…}` (spec §4.F, §6). Connection failures are logged
// and retried with exponential backoff; they never abort the download.
type WebSocketSink struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	backoff time.Duration
}

const (
	wsMinBackoff = 500 * time.Millisecond
	wsMaxBackoff = 30 * time.Second
)

// NewWebSocketSink dials url lazily on the first Send, so a Downloader can
// be created before its remote peer is reachable.
func NewWebSocketSink(url string) *WebSocketSink {
	return &WebSocketSink{url: url, backoff: wsMinBackoff}
}

func (w *WebSocketSink) Send(e Event) error {
	body, err := e.marshalEnvelope()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		if err := w.dialLocked(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.conn.Write(ctx, websocket.MessageText, body); err != nil {
		utils.Debug("eventbus websocket: write failed, will redial: %v", err)
		w.conn.Close(websocket.StatusAbnormalClosure, "write failed")
		w.conn = nil
		return err
	}
	w.backoff = wsMinBackoff
	return nil
}

func (w *WebSocketSink) dialLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, w.url, nil)
	if err != nil {
		utils.Debug("eventbus websocket: dial %s failed, backing off %v: %v", w.url, w.backoff, err)
		time.Sleep(w.backoff)
		w.backoff = min(w.backoff*2, wsMaxBackoff)
		return fmt.Errorf("eventbus websocket: dial: %w", err)
	}
	w.conn = conn
	w.backoff = wsMinBackoff
	return nil
}

func (w *WebSocketSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close(websocket.StatusNormalClosure, "downloader finished")
	w.conn = nil
	return err
}
