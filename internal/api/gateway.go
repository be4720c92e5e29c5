// Package api implements the API Gateway: the HTTP-facing entry point
// that validates a request, builds a Job, and either bypasses the
// broker for High-priority requests (calling the Dispatcher directly)
// or hands the Job to the right Job Manager and optionally polls it to
// completion. Routing is a manual strings.HasPrefix/TrimPrefix switch
// rather than a router library.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smi-gateway/smi/internal/config"
	"github.com/smi-gateway/smi/internal/dispatcher"
	"github.com/smi-gateway/smi/internal/job"
	"github.com/smi-gateway/smi/internal/jobmanager"
	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/objectstore"
	"github.com/smi-gateway/smi/internal/protocol"
	"github.com/smi-gateway/smi/internal/service"
	"github.com/smi-gateway/smi/internal/streaming"
)

// route is a path's modality segment mapped onto the job type that
// services it. Vision chat and embeddings ride the LLM job type
// (different worker_class, same queue); TTS and whole-file STT ride
// the audio job type, matching the base contract's four-type model.
var route = map[string]jobtype.Type{
	"text-to-image":      jobtype.ImageGen,
	"text-to-text":       jobtype.LLMGen,
	"image-to-text":      jobtype.LLMGen,
	"text-to-embeddings": jobtype.LLMGen,
	"text-to-speech":     jobtype.AudioGen,
	"speech-to-text":     jobtype.AudioGen,
}

// Gateway is the HTTP handler mounted at "/".
type Gateway struct {
	cfg         *config.Config
	catalog     *config.Catalog
	managers    map[jobtype.Type]*jobmanager.Manager
	dispatch    *dispatcher.Dispatcher
	streamSvc   map[jobtype.Type]*service.Service
	objectStore objectstore.Store
	upgrader    websocket.Upgrader
	log         *slog.Logger
}

// New builds a Gateway. managers must cover every routable job type;
// streamSvc is consulted only for the streaming speech-to-text
// endpoint, which uses its AudioGen entry.
func New(cfg *config.Config, catalog *config.Catalog, managers map[jobtype.Type]*jobmanager.Manager, streamSvc map[jobtype.Type]*service.Service, d *dispatcher.Dispatcher, store objectstore.Store, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		cfg:         cfg,
		catalog:     catalog,
		managers:    managers,
		dispatch:    d,
		streamSvc:   streamSvc,
		objectStore: store,
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		log:         log,
	}
}

// ServeHTTP routes every request in the external interface table.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/")

	switch {
	case path == "workers/list" && r.Method == http.MethodGet:
		g.listWorkers(w, r)
		return
	case path == "gpu/info" && r.Method == http.MethodGet:
		g.gpuInfo(w, r)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/ws/v1/speech-to-text") {
		g.streamSpeechToText(w, r)
		return
	}

	for prefix, jt := range route {
		if path == prefix && r.Method == http.MethodPost {
			g.submitJob(w, r, prefix, jt)
			return
		}
		if id, ok := strings.CutPrefix(path, prefix+"/"); ok && r.Method == http.MethodGet {
			g.getJob(w, r, jt, id)
			return
		}
		if path == prefix && r.Method == http.MethodGet {
			// text-to-embeddings / text-to-speech also accept GET for
			// polling without a path-embedded id (id via query).
			if id := r.URL.Query().Get("id"); id != "" {
				g.getJob(w, r, jt, id)
				return
			}
		}
	}

	http.NotFound(w, r)
}

func (g *Gateway) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if g.cfg.AuthKey == "" {
		return true
	}
	if r.Header.Get("auth-key") != g.cfg.AuthKey {
		writeError(w, http.StatusUnauthorized, "AuthFailed", "invalid or missing auth-key header")
		return false
	}
	return true
}

type submitRequest struct {
	WorkerID string          `json:"worker_id"`
	Payload  json.RawMessage `json:"-"`
}

func (g *Gateway) submitJob(w http.ResponseWriter, r *http.Request, prefix string, jt jobtype.Type) {
	if !g.checkAuth(w, r) {
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "ValidationFailed", err.Error())
		return
	}
	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil || req.WorkerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "ValidationFailed", "worker_id is required")
		return
	}

	desc, ok := g.catalog.Get(req.WorkerID)
	if !ok {
		writeError(w, http.StatusNotFound, "UnknownWorker", "Worker configuration for model "+req.WorkerID+" not found")
		return
	}

	priority, err := parsePriority(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AuthFailed", err.Error())
		return
	}
	storage, err := parseStorage(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AuthFailed", err.Error())
		return
	}
	keepAlive := parseKeepAlive(r, g.cfg.DefaultKeepAlive)
	async := r.URL.Query().Get("async") == "1" || r.Header.Get("async") == "1"

	env := job.Envelope{RequestModelClass: desc.RequestModelClass, ResponseModelClass: desc.ResponseModelClass}
	j := job.New(jt, req.WorkerID, body, storage, keepAlive, env)

	if priority == jobtype.High {
		g.dispatchHighPriority(w, r, jt, j)
		return
	}

	mgr, ok := g.managers[jt]
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "DispatchFailed", "no job manager configured for this job type")
		return
	}
	if err := mgr.Submit(r.Context(), j, priority); err != nil {
		writeError(w, http.StatusServiceUnavailable, "BrokerUnavailable", err.Error())
		return
	}

	if async {
		writeJSON(w, http.StatusCreated, protocol.JobResponse{ID: j.ID(), Type: jt, Status: jobtype.Queued})
		return
	}
	g.pollToCompletion(w, r, mgr, jt, j.ID())
}

func (g *Gateway) dispatchHighPriority(w http.ResponseWriter, r *http.Request, jt jobtype.Type, j *job.Job) {
	req := protocol.RPCRequest{
		Payload:            json.RawMessage(j.Payload()),
		RequestModelClass:  j.Envelope().RequestModelClass,
		ResponseModelClass: j.Envelope().ResponseModelClass,
		WorkerID:           j.WorkerID(),
		Storage:            string(j.Storage()),
		KeepAlive:          j.KeepAlive(),
	}
	resp, err := g.dispatch.ExecuteJob(r.Context(), jt, req)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "DispatchFailed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(resp.Payload)
}

func (g *Gateway) pollToCompletion(w http.ResponseWriter, r *http.Request, mgr *jobmanager.Manager, jt jobtype.Type, id string) {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.PollingDeadline)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		rec, found, err := mgr.GetStatus(ctx, id)
		if err == nil && found && rec.Status.IsTerminal() {
			g.writeTerminalResult(w, r, mgr, jt, id, rec)
			return
		}
		select {
		case <-ctx.Done():
			writeError(w, http.StatusRequestTimeout, "Timeout", "job did not complete within the polling deadline")
			return
		case <-ticker.C:
		}
	}
}

func (g *Gateway) writeTerminalResult(w http.ResponseWriter, r *http.Request, mgr *jobmanager.Manager, jt jobtype.Type, id string, rec protocol.StatusRecord) {
	if rec.Status == jobtype.Failed {
		writeError(w, http.StatusServiceUnavailable, "WorkerFailure", rec.Message)
		return
	}
	result, ok, err := mgr.GetResult(r.Context(), id)
	if err != nil || !ok {
		writeError(w, http.StatusServiceUnavailable, "StorageFailed", "result not found for a completed job")
		return
	}
	g.writeResultForAccept(w, r, result)
}

func (g *Gateway) getJob(w http.ResponseWriter, r *http.Request, jt jobtype.Type, id string) {
	if !g.checkAuth(w, r) {
		return
	}
	mgr, ok := g.managers[jt]
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "DispatchFailed", "no job manager configured for this job type")
		return
	}
	rec, found, err := mgr.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "StorageFailed", err.Error())
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, protocol.UnknownResponse(id))
		return
	}
	if !rec.Status.IsTerminal() {
		writeJSON(w, http.StatusOK, protocol.JobResponse{ID: id, Type: jt, Status: rec.Status, Message: rec.Message})
		return
	}
	g.writeTerminalResult(w, r, mgr, jt, id, rec)
}

// writeResultForAccept reformats a Local-storage result (raw JSON
// bytes) per the Accept header: base64-decoded raw bytes for a
// non-JSON Accept, or the JSON document itself otherwise. S3-backed
// results carry a signed URL already embedded in the JSON payload by
// the worker, so no further fetch is needed here.
func (g *Gateway) writeResultForAccept(w http.ResponseWriter, r *http.Request, result []byte) {
	accept := r.Header.Get("Accept")
	if accept == "" || strings.Contains(accept, "application/json") || accept == "*/*" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result)
		return
	}

	var payload struct {
		DataBase64 string `json:"data_base64"`
	}
	if err := json.Unmarshal(result, &payload); err != nil || payload.DataBase64 == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(payload.DataBase64)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "StorageFailed", "corrupt result payload")
		return
	}
	w.Header().Set("Content-Type", accept)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (g *Gateway) listWorkers(w http.ResponseWriter, r *http.Request) {
	if !g.checkAuth(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, g.catalog.List())
}

func (g *Gateway) gpuInfo(w http.ResponseWriter, r *http.Request) {
	if !g.checkAuth(w, r) {
		return
	}
	for jt := range g.managers {
		resp, err := g.dispatch.CallFunction(r.Context(), jt, protocol.RPCRequest{RemoteFunction: "gpu_info"})
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(resp.Payload)
			return
		}
	}
	writeError(w, http.StatusServiceUnavailable, "DispatchFailed", "no service reachable for gpu_info")
}

func (g *Gateway) streamSpeechToText(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("auth-key")
	if key == "" {
		key = r.URL.Query().Get("auth_key")
	}
	if g.cfg.AuthKey != "" && key != g.cfg.AuthKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		http.Error(w, "worker_id is required", http.StatusUnprocessableEntity)
		return
	}
	timeout := 60 * time.Second
	if v := r.URL.Query().Get("timeout"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	svc, ok := g.streamSvc[jobtype.AudioGen]
	if !ok {
		http.Error(w, "streaming service unavailable", http.StatusServiceUnavailable)
		return
	}
	w_, err := svc.GetWorker(workerID, g.cfg.DefaultKeepAlive)
	if err != nil {
		http.Error(w, "unknown worker_id", http.StatusNotFound)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("websocket upgrade failed", "error", err)
		return
	}

	bridge := streaming.NewBridge(conn, w_, timeout, g.log)
	if err := bridge.Run(r.Context()); err != nil {
		g.log.Warn("streaming session ended", "worker_id", workerID, "error", err)
	}
}

// parsePriority reads the priority query param or header, defaulting
// to Low when absent. A present-but-unrecognized value is rejected
// rather than silently defaulted.
func parsePriority(r *http.Request) (jobtype.Priority, error) {
	v := r.URL.Query().Get("priority")
	if v == "" {
		v = r.Header.Get("priority")
	}
	if v == "" {
		return jobtype.Low, nil
	}
	p := jobtype.Priority(strings.ToUpper(v))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid priority %q", v)
	}
	return p, nil
}

// parseStorage reads the storage query param or header, defaulting to
// Local when absent. A present-but-unrecognized value is rejected
// rather than silently defaulted.
func parseStorage(r *http.Request) (jobtype.Storage, error) {
	v := r.URL.Query().Get("storage")
	if v == "" {
		v = r.Header.Get("storage")
	}
	if v == "" {
		return jobtype.Local, nil
	}
	s := jobtype.Storage(strings.ToUpper(v))
	if !s.IsValid() {
		return "", fmt.Errorf("invalid storage %q", v)
	}
	return s, nil
}

func parseKeepAlive(r *http.Request, def int) int {
	v := r.URL.Query().Get("keep_alive")
	if v == "" {
		v = r.Header.Get("keep-alive")
	}
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := r.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			break
		}
	}
	if len(buf) == 0 {
		buf = []byte("{}")
	}
	return buf, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, errorBody{Detail: detail, Error: kind})
}
