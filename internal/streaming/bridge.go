// Package streaming implements the Streaming Bridge: the bidirectional
// link between a client-facing WebSocket connection and a Worker's
// StreamStart channels, translating typed Frames across the wire. A
// dual-pump readPump/writePump structure (ping/pong, write deadlines)
// drives a single session's ingress/egress goroutines over a shared
// stop signal.
package streaming

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/worker"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20
)

// wireFrame is the envelope every Frame crosses the WebSocket as,
// regardless of gorilla's own Text/Binary distinction, so the nine
// {Text,Bytes,JSON}x{Text,Bytes,JSON} in/out combinations all reduce
// to one decode path.
type wireFrame struct {
	Type  jobtype.FrameType `json:"type"`
	Text  string            `json:"text,omitempty"`
	Bytes string            `json:"bytes,omitempty"` // base64
	JSON  json.RawMessage   `json:"json,omitempty"`
}

func encodeFrame(f worker.Frame) ([]byte, error) {
	w := wireFrame{Type: f.Type}
	switch f.Type {
	case jobtype.FrameText:
		w.Text = f.Text
	case jobtype.FrameBytes:
		w.Bytes = base64.StdEncoding.EncodeToString(f.Bytes)
	case jobtype.FrameJSON:
		w.JSON = json.RawMessage(f.JSON)
	default:
		return nil, fmt.Errorf("streaming: unknown frame type %q", f.Type)
	}
	return json.Marshal(w)
}

func decodeFrame(data []byte) (worker.Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return worker.Frame{}, fmt.Errorf("streaming: decode frame: %w", err)
	}
	if !w.Type.IsValid() {
		return worker.Frame{}, fmt.Errorf("streaming: invalid frame type %q", w.Type)
	}
	switch w.Type {
	case jobtype.FrameText:
		return worker.Frame{Type: jobtype.FrameText, Text: w.Text}, nil
	case jobtype.FrameBytes:
		b, err := base64.StdEncoding.DecodeString(w.Bytes)
		if err != nil {
			return worker.Frame{}, fmt.Errorf("streaming: decode base64 frame: %w", err)
		}
		return worker.Frame{Type: jobtype.FrameBytes, Bytes: b}, nil
	default:
		return worker.Frame{Type: jobtype.FrameJSON, JSON: w.JSON}, nil
	}
}

// Bridge runs one streaming session between a client WebSocket
// connection and a Worker, until the client disconnects, the worker's
// StreamStart returns, or ctx is cancelled.
type Bridge struct {
	conn        *websocket.Conn
	w           worker.Worker
	log         *slog.Logger
	idleTimeout time.Duration
}

// NewBridge wires conn to w. idleTimeout bounds how long StreamStart
// waits for the next inbound frame before giving up.
func NewBridge(conn *websocket.Conn, w worker.Worker, idleTimeout time.Duration, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	return &Bridge{conn: conn, w: w, idleTimeout: idleTimeout, log: log}
}

// Run blocks until the session ends, closing conn on return.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer b.conn.Close()

	in := make(chan worker.Frame)
	out := make(chan worker.Frame)

	go b.ingress(ctx, cancel, in)
	go b.egress(ctx, out)

	return b.w.StreamStart(ctx, in, out, b.idleTimeout)
}

// ingress reads frames off the WebSocket and forwards them to in,
// closing in (so StreamStart returns) once the connection drops.
func (b *Bridge) ingress(ctx context.Context, cancel context.CancelFunc, in chan<- worker.Frame) {
	defer cancel()
	defer close(in)

	b.conn.SetReadLimit(maxMessageSize)
	_ = b.conn.SetReadDeadline(time.Now().Add(pongWait))
	b.conn.SetPongHandler(func(string) error {
		return b.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.log.Warn("streaming: websocket read error", "error", err)
			}
			return
		}
		frame, err := decodeFrame(data)
		if err != nil {
			b.log.Warn("streaming: dropping malformed frame", "error", err)
			continue
		}
		select {
		case in <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// egress writes frames from out to the WebSocket, sending pings on
// pingPeriod so intermediaries don't time out an idle connection.
func (b *Bridge) egress(ctx context.Context, out <-chan worker.Frame) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-out:
			if !ok {
				return
			}
			data, err := encodeFrame(frame)
			if err != nil {
				b.log.Warn("streaming: dropping unencodable frame", "error", err)
				continue
			}
			_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.log.Warn("streaming: websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
