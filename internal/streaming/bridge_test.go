package streaming

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/worker"
)

// echoWorker upper-cases every TEXT frame it receives and sends it
// back, exercising the Bridge's frame round-trip without needing a
// real model.
type echoWorker struct {
	worker.BaseState
}

func (echoWorker) Work(ctx context.Context, req []byte) ([]byte, error) { return req, nil }

func (w echoWorker) StreamStart(ctx context.Context, in <-chan worker.Frame, out chan<- worker.Frame, timeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-in:
			if !ok {
				return nil
			}
			resp, err := w.Stream(ctx, frame)
			if err != nil {
				return err
			}
			select {
			case out <- resp:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (echoWorker) Stream(ctx context.Context, frame worker.Frame) (worker.Frame, error) {
	return worker.Frame{Type: jobtype.FrameText, Text: strings.ToUpper(frame.Text)}, nil
}

func (echoWorker) Cleanup() error { return nil }

func TestBridgeRoundTripsTextFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		bridge := NewBridge(conn, &echoWorker{}, 2*time.Second, nil)
		_ = bridge.Run(context.Background())
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	frame := []byte(`{"type":"TEXT","text":"hello"}`)
	if err := client.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(data), `"HELLO"`) {
		t.Errorf("expected echoed uppercase text, got %s", data)
	}
}

func TestDecodeFrameRejectsInvalidType(t *testing.T) {
	if _, err := decodeFrame([]byte(`{"type":"NOPE"}`)); err == nil {
		t.Fatal("expected error for invalid frame type")
	}
}

func TestEncodeDecodeBytesFrameRoundTrip(t *testing.T) {
	orig := worker.Frame{Type: jobtype.FrameBytes, Bytes: []byte{1, 2, 3, 255}}
	data, err := encodeFrame(orig)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Bytes) != string(orig.Bytes) {
		t.Errorf("expected %v, got %v", orig.Bytes, got.Bytes)
	}
}
