package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mediakeep/upload-service/internal/http/middleware"
	"github.com/mediakeep/upload-service/internal/types"
	"github.com/mediakeep/upload-service/internal/upload"
	"github.com/mediakeep/upload-service/internal/utils/response"
)

// Handlers exposes the batch-upload API: initiation, status polling, chunk
// grant re-issuance, and the single-file flow.
type Handlers struct {
	planner   *upload.Planner
	store     upload.BatchStore
	issuer    *upload.Issuer
	objects   upload.ObjectStore
	validator *upload.Validator

	directGrantTTL time.Duration
	chunkGrantTTL  time.Duration
}

// NewHandlers creates the batch API handlers.
func NewHandlers(planner *upload.Planner, store upload.BatchStore, issuer *upload.Issuer, objects upload.ObjectStore) *Handlers {
	return &Handlers{
		planner:        planner,
		store:          store,
		issuer:         issuer,
		objects:        objects,
		validator:      upload.NewValidator(),
		directGrantTTL: upload.DefaultDirectGrantTTL,
		chunkGrantTTL:  upload.DefaultChunkGrantTTL,
	}
}

// SetGrantTTLs overrides the expiries used for single-file grants and chunk
// grant re-issuance.
func (h *Handlers) SetGrantTTLs(direct, chunk time.Duration) {
	if direct > 0 {
		h.directGrantTTL = direct
	}
	if chunk > 0 {
		h.chunkGrantTTL = chunk
	}
}

type batchInitiateRequest struct {
	Files []types.FileDescriptor `json:"files" validate:"required,min=1,dive"`
}

type batchInitiateResponse struct {
	BatchID           string            `json:"batch_id"`
	Status            types.BatchStatus `json:"status"`
	TotalFiles        int               `json:"total_files"`
	TotalChunks       int               `json:"total_chunks,omitempty"`
	ChunkIDs          []string          `json:"chunk_ids,omitempty"`
	UploadGrants      []types.FileGrant `json:"upload_grants,omitempty"`
	DuplicatesSkipped int               `json:"duplicates_skipped,omitempty"`
}

// BatchInitiate handles batch submission: small batches return grants
// synchronously, large ones are chunked and queued for polling.
func (h *Handlers) BatchInitiate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("caller not authenticated")))
			return
		}

		var req batchInitiateRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if errors.Is(err, io.EOF) {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("request body cannot be empty")))
			return
		} else if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		validate := validator.New()
		if err := validate.Struct(req); err != nil {
			if ve, ok := err.(validator.ValidationErrors); ok {
				response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(ve))
				return
			}
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		files := make([]types.FileDescriptor, len(req.Files))
		for i, f := range req.Files {
			f = upload.NormalizeFile(f)
			if err := h.validator.ValidateFile(f); err != nil {
				response.WriteError(w, err)
				return
			}
			files[i] = f
		}

		result, err := h.planner.Initiate(r.Context(), ownerID, files)
		if err != nil {
			response.WriteError(w, err)
			return
		}

		resp := batchInitiateResponse{
			BatchID:           result.Record.BatchID,
			Status:            result.Record.Status,
			TotalFiles:        result.Record.TotalFiles,
			TotalChunks:       result.Record.TotalChunks,
			ChunkIDs:          result.ChunkIDs,
			UploadGrants:      result.Grants,
			DuplicatesSkipped: result.DuplicatesSkipped,
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Batch initiated", resp))
	}
}

type chunkStatus struct {
	ChunkID        string            `json:"chunk_id"`
	Status         types.BatchStatus `json:"status"`
	Files          int               `json:"files"`
	ProcessedFiles int               `json:"processed"`
}

type batchStatusResponse struct {
	BatchID        string            `json:"batch_id"`
	Status         types.BatchStatus `json:"status"`
	TotalFiles     int               `json:"total_files"`
	ProcessedFiles int               `json:"processed_files"`
	ProgressPct    float64           `json:"progress_pct"`
	DuplicateFiles int               `json:"duplicate_files,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Chunks         []chunkStatus     `json:"chunks,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// BatchStatus is the read-only projection clients poll until a terminal
// state. Progress is computed at read time, never stored.
func (h *Handlers) BatchStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("caller not authenticated")))
			return
		}

		batchID := r.URL.Query().Get("batch_id")
		if batchID == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("batch_id is required")))
			return
		}

		rec, err := h.store.Get(r.Context(), batchID)
		if err != nil {
			response.WriteError(w, err)
			return
		}

		if rec.OwnerID != ownerID {
			response.WriteError(w, fmt.Errorf("batch %s: %w", batchID, upload.ErrAccessDenied))
			return
		}

		resp := batchStatusResponse{
			BatchID:        rec.BatchID,
			Status:         rec.Status,
			TotalFiles:     rec.TotalFiles,
			ProcessedFiles: rec.ProcessedFiles,
			ProgressPct:    rec.ProgressPct(),
			DuplicateFiles: rec.DuplicateFiles,
			ErrorMessage:   rec.ErrorMessage,
			CreatedAt:      rec.CreatedAt,
			UpdatedAt:      rec.UpdatedAt,
		}

		for _, chunkID := range rec.ChunkIDs {
			chunk, err := h.store.Get(r.Context(), chunkID)
			if err != nil {
				slog.Warn("chunk record missing in status projection",
					slog.String("chunk_batch_id", chunkID))
				continue
			}
			resp.Chunks = append(resp.Chunks, chunkStatus{
				ChunkID:        chunk.BatchID,
				Status:         chunk.Status,
				Files:          chunk.TotalFiles,
				ProcessedFiles: chunk.ProcessedFiles,
			})
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Batch status", resp))
	}
}

type chunkURLsRequest struct {
	BatchID    string `json:"batch_id" validate:"required"`
	ChunkIndex int    `json:"chunk_index" validate:"min=0"`
}

type chunkURLsResponse struct {
	BatchID      string            `json:"batch_id"`
	ChunkIndex   int               `json:"chunk_index"`
	ChunkBatchID string            `json:"chunk_batch_id"`
	UploadGrants []types.FileGrant `json:"upload_grants"`
	ExpiresIn    int               `json:"expires_in"`
	TotalFiles   int               `json:"total_files"`
}

// BatchChunkURLs re-issues fresh short-lived grants for one chunk of a
// queued batch. Grants are bearer-capable and never persisted, so each call
// presigns anew.
func (h *Handlers) BatchChunkURLs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("caller not authenticated")))
			return
		}

		var req chunkURLsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}
		if req.BatchID == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("batch_id is required")))
			return
		}

		master, err := h.store.Get(r.Context(), req.BatchID)
		if err != nil {
			response.WriteError(w, err)
			return
		}
		if master.OwnerID != ownerID {
			response.WriteError(w, fmt.Errorf("batch %s: %w", req.BatchID, upload.ErrAccessDenied))
			return
		}
		if req.ChunkIndex < 0 || req.ChunkIndex >= len(master.ChunkIDs) {
			response.WriteError(w, fmt.Errorf("%w: chunk_index %d out of range", upload.ErrInvalidInput, req.ChunkIndex))
			return
		}

		chunk, err := h.store.Get(r.Context(), master.ChunkIDs[req.ChunkIndex])
		if err != nil {
			response.WriteError(w, err)
			return
		}

		// Only filenames survive on the chunk record; sizes are unknown
		// here, so re-issued grants are always simple-mode.
		files := make([]types.FileDescriptor, len(chunk.FileNames))
		for i, name := range chunk.FileNames {
			files[i] = types.FileDescriptor{Filename: name}
		}

		grants := h.issuer.Issue(r.Context(), ownerID, files, h.chunkGrantTTL)

		resp := chunkURLsResponse{
			BatchID:      master.BatchID,
			ChunkIndex:   req.ChunkIndex,
			ChunkBatchID: chunk.BatchID,
			UploadGrants: grants,
			ExpiresIn:    int(h.chunkGrantTTL.Seconds()),
			TotalFiles:   len(grants),
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Chunk upload grants issued", resp))
	}
}

type uploadInitiateRequest struct {
	Filename    string `json:"filename" validate:"required"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	ContentHash string `json:"hash,omitempty"`
}

// UploadInitiate is the single-file flow: one fresh grant (or multipart
// session) for one file. Keys carry a generated file id so repeated uploads
// of the same name never overwrite.
func (h *Handlers) UploadInitiate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("caller not authenticated")))
			return
		}

		var req uploadInitiateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}

		file := upload.NormalizeFile(types.FileDescriptor{
			Filename:    req.Filename,
			Size:        req.Size,
			ContentType: req.ContentType,
			ContentHash: req.ContentHash,
		})
		if err := h.validator.ValidateFile(file); err != nil {
			response.WriteError(w, err)
			return
		}

		fileID := uuid.New().String()
		key := upload.UniqueStorageKey(ownerID, fileID, file.Filename, time.Now())

		grant := h.issuer.IssueFor(r.Context(), file, key, h.directGrantTTL)
		if grant.Error != "" {
			response.WriteJSON(w, http.StatusBadGateway, response.GeneralError(errors.New(grant.Error)))
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Upload initiated", map[string]interface{}{
			"file_id": fileID,
			"grant":   grant,
		}))
	}
}

type uploadCompleteRequest struct {
	StorageKey string                `json:"storage_key" validate:"required"`
	UploadID   string                `json:"upload_id" validate:"required"`
	Parts      []types.CompletedPart `json:"parts" validate:"required,min=1,dive"`
}

// UploadComplete finalizes a multipart session from the uploaded part ETags.
func (h *Handlers) UploadComplete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("caller not authenticated")))
			return
		}

		var req uploadCompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}

		validate := validator.New()
		if err := validate.Struct(req); err != nil {
			if ve, ok := err.(validator.ValidationErrors); ok {
				response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(ve))
				return
			}
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		if !upload.OwnedKey(ownerID, req.StorageKey) {
			response.WriteError(w, fmt.Errorf("key %s: %w", req.StorageKey, upload.ErrAccessDenied))
			return
		}

		etag, err := h.objects.CompleteMultipartSession(r.Context(), req.StorageKey, req.UploadID, req.Parts)
		if err != nil {
			response.WriteJSON(w, http.StatusBadGateway, response.GeneralError(err))
			return
		}

		slog.Info("multipart upload completed",
			slog.String("storage_key", req.StorageKey),
			slog.Int("parts", len(req.Parts)))

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Upload completed", map[string]string{
			"storage_key": req.StorageKey,
			"etag":        etag,
		}))
	}
}

// ObjectStatus reports whether an object landed in storage, with its
// metadata. Callers use it to confirm an upload after pushing bytes.
func (h *Handlers) ObjectStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("caller not authenticated")))
			return
		}

		key := r.URL.Query().Get("key")
		if key == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("key is required")))
			return
		}
		if !upload.OwnedKey(ownerID, key) {
			response.WriteError(w, fmt.Errorf("key %s: %w", key, upload.ErrAccessDenied))
			return
		}

		stat, err := h.objects.Stat(r.Context(), key)
		if err != nil {
			response.WriteError(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Object found", stat))
	}
}
