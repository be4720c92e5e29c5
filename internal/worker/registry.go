package worker

// Worker class identifiers, matched against a config.WorkerConfig's
// WorkerClass field. These are this gateway's stand-ins for the
// source's dotted Python class paths.
const (
	ClassImageDiffusion = "image_diffusion"
	ClassChat           = "chat"
	ClassEmbeddings     = "embeddings"
	ClassTTS            = "tts"
	ClassSTT            = "stt"
	ClassSTTStream      = "stt_stream"
)

// DefaultRegistry returns a Registry with every built-in worker class
// registered, for use by cmd/service unless a deployment supplies its
// own.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ClassImageDiffusion, NewImageDiffusionWorker)
	r.Register(ClassChat, NewChatWorker)
	r.Register(ClassEmbeddings, NewEmbeddingsWorker)
	r.Register(ClassTTS, NewTTSWorker)
	r.Register(ClassSTT, NewSTTWorker)
	r.Register(ClassSTTStream, NewSTTStreamWorker)
	return r
}
