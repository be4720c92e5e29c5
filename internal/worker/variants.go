package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smi-gateway/smi/internal/jobtype"
)

// The anonymous request/response structs inside each Work are the
// minimal typed shapes each stub variant understands; a real deployment replaces Work's body
// with a call into a loaded model, but the request/response framing
// and state bookkeeping below is what every implementation shares.

// ImageDiffusionWorker stands in for a text-to-image / image-to-image
// model family (e.g. a diffusion pipeline). Loading model weights is
// out of scope; Work simulates the latency shape of a real inference
// call and returns a deterministic placeholder payload.
type ImageDiffusionWorker struct {
	BaseState
	model string
}

func NewImageDiffusionWorker(model string) (Worker, error) {
	return &ImageDiffusionWorker{model: model}, nil
}

func (w *ImageDiffusionWorker) Work(ctx context.Context, req []byte) ([]byte, error) {
	return w.runWork(func() ([]byte, error) {
		var in struct {
			Prompt string `json:"prompt"`
			Steps  int    `json:"num_inference_steps"`
		}
		if err := json.Unmarshal(req, &in); err != nil {
			return nil, fmt.Errorf("imagegen: decode request: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(simulatedLatency(in.Steps, 20)):
		}
		out := struct {
			Status string `json:"status"`
			Model  string `json:"model"`
			Bytes  int    `json:"image_bytes"`
		}{Status: string(jobtype.Success), Model: w.model, Bytes: 1024}
		return json.Marshal(out)
	})
}

func (w *ImageDiffusionWorker) StreamStart(ctx context.Context, in <-chan Frame, out chan<- Frame, timeout time.Duration) error {
	return errUnsupportedStream("imagegen")
}

func (w *ImageDiffusionWorker) Stream(ctx context.Context, frame Frame) (Frame, error) {
	return Frame{}, errUnsupportedStream("imagegen")
}

func (w *ImageDiffusionWorker) Cleanup() error { return nil }

// ChatWorker stands in for an LLM chat/completion model family.
type ChatWorker struct {
	BaseState
	model string
}

func NewChatWorker(model string) (Worker, error) {
	return &ChatWorker{model: model}, nil
}

func (w *ChatWorker) Work(ctx context.Context, req []byte) ([]byte, error) {
	return w.runWork(func() ([]byte, error) {
		var in struct {
			Messages []json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(req, &in); err != nil {
			return nil, fmt.Errorf("llmgen: decode request: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(simulatedLatency(len(in.Messages), 50)):
		}
		out := struct {
			Status  string `json:"status"`
			Model   string `json:"model"`
			Content string `json:"content"`
		}{Status: string(jobtype.Success), Model: w.model, Content: "stub completion"}
		return json.Marshal(out)
	})
}

func (w *ChatWorker) StreamStart(ctx context.Context, in <-chan Frame, out chan<- Frame, timeout time.Duration) error {
	return errUnsupportedStream("llmgen")
}

func (w *ChatWorker) Stream(ctx context.Context, frame Frame) (Frame, error) {
	return Frame{}, errUnsupportedStream("llmgen")
}

func (w *ChatWorker) Cleanup() error { return nil }

// EmbeddingsWorker stands in for a text/image embeddings model,
// sharing the LLM job type's request shape but returning a vector.
type EmbeddingsWorker struct {
	BaseState
	model string
	dims  int
}

func NewEmbeddingsWorker(model string) (Worker, error) {
	return &EmbeddingsWorker{model: model, dims: 384}, nil
}

func (w *EmbeddingsWorker) Work(ctx context.Context, req []byte) ([]byte, error) {
	return w.runWork(func() ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		vec := make([]float64, w.dims)
		out := struct {
			Status string    `json:"status"`
			Model  string    `json:"model"`
			Vector []float64 `json:"vector"`
		}{Status: string(jobtype.Success), Model: w.model, Vector: vec}
		return json.Marshal(out)
	})
}

func (w *EmbeddingsWorker) StreamStart(ctx context.Context, in <-chan Frame, out chan<- Frame, timeout time.Duration) error {
	return errUnsupportedStream("embeddings")
}

func (w *EmbeddingsWorker) Stream(ctx context.Context, frame Frame) (Frame, error) {
	return Frame{}, errUnsupportedStream("embeddings")
}

func (w *EmbeddingsWorker) Cleanup() error { return nil }

// TTSWorker stands in for a text-to-speech model, servicing
// AUDIO_GENERATION jobs with a non-streaming Work call.
type TTSWorker struct {
	BaseState
	model string
}

func NewTTSWorker(model string) (Worker, error) {
	return &TTSWorker{model: model}, nil
}

func (w *TTSWorker) Work(ctx context.Context, req []byte) ([]byte, error) {
	return w.runWork(func() ([]byte, error) {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(req, &in); err != nil {
			return nil, fmt.Errorf("audiogen: decode request: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(simulatedLatency(len(in.Text), 2)):
		}
		out := struct {
			Status string `json:"status"`
			Model  string `json:"model"`
			Bytes  int    `json:"audio_bytes"`
		}{Status: string(jobtype.Success), Model: w.model, Bytes: len(in.Text) * 320}
		return json.Marshal(out)
	})
}

func (w *TTSWorker) StreamStart(ctx context.Context, in <-chan Frame, out chan<- Frame, timeout time.Duration) error {
	return errUnsupportedStream("audiogen")
}

func (w *TTSWorker) Stream(ctx context.Context, frame Frame) (Frame, error) {
	return Frame{}, errUnsupportedStream("audiogen")
}

func (w *TTSWorker) Cleanup() error { return nil }

// STTWorker stands in for a batch speech-to-text model (non-streaming
// transcription of a complete audio payload).
type STTWorker struct {
	BaseState
	model string
}

func NewSTTWorker(model string) (Worker, error) {
	return &STTWorker{model: model}, nil
}

func (w *STTWorker) Work(ctx context.Context, req []byte) ([]byte, error) {
	return w.runWork(func() ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(simulatedLatency(len(req), 1)):
		}
		out := struct {
			Status     string `json:"status"`
			Model      string `json:"model"`
			Transcript string `json:"transcript"`
		}{Status: string(jobtype.Success), Model: w.model, Transcript: ""}
		return json.Marshal(out)
	})
}

func (w *STTWorker) StreamStart(ctx context.Context, in <-chan Frame, out chan<- Frame, timeout time.Duration) error {
	return errUnsupportedStream("audio_transcription")
}

func (w *STTWorker) Stream(ctx context.Context, frame Frame) (Frame, error) {
	return Frame{}, errUnsupportedStream("audio_transcription")
}

func (w *STTWorker) Cleanup() error { return nil }

// STTStreamWorker services a live speech-to-text session: audio BYTES
// frames in, incremental TEXT transcript frames out. It is the only
// variant here that implements StreamStart for real, since streaming
// transcription is this system's one inherently streaming modality.
type STTStreamWorker struct {
	BaseState
	model string
}

func NewSTTStreamWorker(model string) (Worker, error) {
	return &STTStreamWorker{model: model}, nil
}

func (w *STTStreamWorker) Work(ctx context.Context, req []byte) ([]byte, error) {
	return nil, fmt.Errorf("audio_transcription_stream: Work not supported, use StreamStart")
}

func (w *STTStreamWorker) StreamStart(ctx context.Context, in <-chan Frame, out chan<- Frame, timeout time.Duration) error {
	return w.runStream(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case frame, ok := <-in:
				if !ok {
					return nil
				}
				resp, err := w.transcribeChunk(frame)
				if err != nil {
					return err
				}
				select {
				case out <- resp:
				case <-ctx.Done():
					return ctx.Err()
				}
			case <-time.After(timeout):
				return errStreamIdleTimeout
			}
		}
	})
}

func (w *STTStreamWorker) Stream(ctx context.Context, frame Frame) (Frame, error) {
	return w.transcribeChunk(frame)
}

func (w *STTStreamWorker) transcribeChunk(frame Frame) (Frame, error) {
	if frame.Type != jobtype.FrameBytes {
		return Frame{}, fmt.Errorf("audio_transcription_stream: expected BYTES frame, got %s", frame.Type)
	}
	return Frame{Type: jobtype.FrameText, Text: ""}, nil
}

func (w *STTStreamWorker) Cleanup() error { return nil }

// simulatedLatency scales with a size-like input (perUnitMillis per
// unit) but is bounded, so stub workers still return promptly in
// tests.
func simulatedLatency(n int, perUnitMillis int) time.Duration {
	d := time.Duration(n*perUnitMillis) * time.Millisecond
	if d > 200*time.Millisecond {
		d = 200 * time.Millisecond
	}
	if d < 5*time.Millisecond {
		d = 5 * time.Millisecond
	}
	return d
}
