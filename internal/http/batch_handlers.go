package httpx

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/service/rollout"
	"github.com/AbhishekMashetty/axon/internal/ws"
	jwtpkg "github.com/AbhishekMashetty/axon/pkg/jwt"
)

var errManifestExtension = errors.New("manifest must be a .yaml or .yml file")

type uploadedManifest struct {
	filename string
	content  []byte
}

func (r *Router) handleValidateManifest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	upload, ok := r.readManifest(w, req)
	if !ok {
		return
	}
	m, err := r.manifests.Parse(upload.content)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":       true,
		"filename":    upload.filename,
		"version":     m.Version,
		"deployments": len(m.Deployments),
	})
}

func (r *Router) handleBatches(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = defaultListLimit
		}
		batches, err := r.orch.List(req.Context(), limit)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		if batches == nil {
			batches = []domain.Batch{}
		}
		writeJSON(w, http.StatusOK, batches)
	case http.MethodPost:
		r.handleSubmit(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

// handleSubmit accepts a manifest, records the batch, and processes it in the background.
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) {
	if !r.requireRole(w, req, jwtpkg.RoleOperator) {
		return
	}
	if !r.charge(w, req, quotaSubmit, actorKey(req)) {
		r.recordSubmission("", errQuotaSpent, 0)
		return
	}
	upload, ok := r.readManifest(w, req)
	if !ok {
		return
	}
	modeValue := req.URL.Query().Get("mode")
	if modeValue == "" {
		modeValue = req.FormValue("processing_mode")
	}
	mode, err := domain.ParseProcessingMode(modeValue)
	if err != nil {
		r.recordSubmission("", errInvalidMode, 0)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := r.manifests.Parse(upload.content)
	if err != nil {
		r.recordSubmission(mode, err, 0)
		r.writeServiceError(w, req, err)
		return
	}
	batch, err := r.orch.Submit(req.Context(), upload.filename, m.Requests(), mode)
	r.recordSubmission(mode, err, len(m.Deployments))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	payload := map[string]any{
		"batch":      batch,
		"status_url": "/batches/" + batch.ID,
	}
	if r.archive != nil {
		key, err := r.archive.Save(req.Context(), batch.ID, upload.filename, upload.content)
		if err != nil {
			r.logger.Warn("manifest archive failed", "batch_id", batch.ID, "error", err)
		} else {
			payload["archive_key"] = key
		}
	}
	r.orch.ProcessAsync(r.baseCtx, batch.ID, mode)
	writeJSON(w, http.StatusAccepted, payload)
}

// readManifest accepts either a multipart upload or a raw YAML body, bounded by the manifest size limit.
func (r *Router) readManifest(w http.ResponseWriter, req *http.Request) (uploadedManifest, bool) {
	req.Body = http.MaxBytesReader(w, req.Body, r.maxManifestBytes)
	upload, err := r.extractManifest(req)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "manifest exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return uploadedManifest{}, false
	}
	if len(strings.TrimSpace(string(upload.content))) == 0 {
		writeError(w, http.StatusBadRequest, "manifest is empty")
		return uploadedManifest{}, false
	}
	return upload, true
}

func (r *Router) extractManifest(req *http.Request) (uploadedManifest, error) {
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		content, err := io.ReadAll(req.Body)
		if err != nil {
			return uploadedManifest{}, err
		}
		name := strings.TrimSpace(req.URL.Query().Get(manifestFilenameParam))
		if name == "" {
			name = defaultManifestName
		}
		return uploadedManifest{filename: filepath.Base(name), content: content}, nil
	}
	if err := req.ParseMultipartForm(r.maxManifestBytes); err != nil {
		return uploadedManifest{}, err
	}
	file, header, err := req.FormFile(manifestFormField)
	if errors.Is(err, http.ErrMissingFile) {
		file, header, err = req.FormFile(legacyManifestField)
	}
	if err != nil {
		return uploadedManifest{}, errors.New("manifest file is required")
	}
	defer file.Close()
	if !allowedManifestName(header.Filename) {
		return uploadedManifest{}, errManifestExtension
	}
	content, err := io.ReadAll(file)
	if err != nil {
		return uploadedManifest{}, err
	}
	return uploadedManifest{filename: filepath.Base(header.Filename), content: content}, nil
}

func allowedManifestName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (r *Router) handleBatchSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/batches/"), "/")
	parts := strings.Split(trimmed, "/")
	batchID := parts[0]
	if batchID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		r.handleBatchStatus(w, req, batchID)
	case len(parts) == 2 && parts[1] == "rollback":
		r.handleRollback(w, req, batchID)
	case len(parts) == 2 && parts[1] == "events":
		r.handleBatchEvents(w, req, batchID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleBatchStatus(w http.ResponseWriter, req *http.Request, batchID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	summary, err := r.orch.Status(req.Context(), batchID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (r *Router) handleRollback(w http.ResponseWriter, req *http.Request, batchID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.requireRole(w, req, jwtpkg.RoleOperator) {
		return
	}
	if !r.charge(w, req, quotaRollback, batchKey(batchID)) {
		r.recordRollback(rollout.RollbackResult{}, errQuotaSpent)
		return
	}
	result, err := r.orch.Rollback(req.Context(), batchID)
	r.recordRollback(result, err)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleBatchEvents streams a batch's events as Server-Sent Events until the client leaves.
func (r *Router) handleBatchEvents(w http.ResponseWriter, req *http.Request, batchID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming disabled")
		return
	}
	if _, err := r.orch.Status(req.Context(), batchID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(batchID, client)
	defer func() {
		r.hub.Unregister(batchID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleBatchesWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming disabled")
		return
	}
	batchID := strings.TrimSpace(req.URL.Query().Get("batch_id"))
	if batchID == "" {
		batchID = ws.AllBatches
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(batchID, client)
	go func() {
		defer func() {
			r.hub.Unregister(batchID, client)
			client.Close()
		}()
		client.Drain()
	}()
}
