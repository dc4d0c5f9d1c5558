package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mediakeep/upload-service/internal/http/middleware"
	"github.com/mediakeep/upload-service/internal/types"
	"github.com/mediakeep/upload-service/internal/upload"
)

type fakeStore struct {
	records map[string]*types.BatchRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*types.BatchRecord)}
}

func (s *fakeStore) Create(_ context.Context, rec *types.BatchRecord) error {
	if _, ok := s.records[rec.BatchID]; ok {
		return fmt.Errorf("batch %s already exists", rec.BatchID)
	}
	c := *rec
	s.records[rec.BatchID] = &c
	return nil
}

func (s *fakeStore) Get(_ context.Context, batchID string) (*types.BatchRecord, error) {
	rec, ok := s.records[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, upload.ErrNotFound)
	}
	c := *rec
	return &c, nil
}

func (s *fakeStore) Update(_ context.Context, batchID string, mutate func(*types.BatchRecord) error) (*types.BatchRecord, error) {
	rec, ok := s.records[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, upload.ErrNotFound)
	}
	c := *rec
	if err := mutate(&c); err != nil {
		return nil, err
	}
	s.records[batchID] = &c
	out := c
	return &out, nil
}

type fakeObjects struct{}

func (fakeObjects) PresignedPut(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://storage.local/put/" + key, nil
}

func (fakeObjects) CreateMultipartSession(_ context.Context, key, _ string) (string, error) {
	return "session-" + key, nil
}

func (fakeObjects) PresignPart(_ context.Context, key, uploadID string, partNumber int, _ time.Duration) (string, error) {
	return fmt.Sprintf("https://storage.local/part/%s/%d", uploadID, partNumber), nil
}

func (fakeObjects) CompleteMultipartSession(_ context.Context, _, _ string, parts []types.CompletedPart) (string, error) {
	return fmt.Sprintf("etag-%d", len(parts)), nil
}

func (fakeObjects) AbortMultipartSession(_ context.Context, _, _ string) error { return nil }

func (fakeObjects) Stat(_ context.Context, key string) (types.ObjectStat, error) {
	if key == "owner-1/originals/2026/03/gone.jpg" {
		return types.ObjectStat{}, fmt.Errorf("key %s: %w", key, upload.ErrNotFound)
	}
	return types.ObjectStat{Size: 42, ETag: "abc"}, nil
}

type fakeQueue struct {
	messages []*types.ChunkMessage
}

func (q *fakeQueue) PublishChunk(_ context.Context, msg *types.ChunkMessage) error {
	q.messages = append(q.messages, msg)
	return nil
}

func newTestHandlers() (*Handlers, *fakeStore, *fakeQueue) {
	store := newFakeStore()
	queue := &fakeQueue{}
	issuer := upload.NewIssuer(fakeObjects{}, upload.NewSelector())
	planner := upload.NewPlanner(store, queue, nil, issuer, nil)
	return NewHandlers(planner, store, issuer, fakeObjects{}), store, queue
}

func authedRequest(method, target string, body []byte, ownerID string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if ownerID != "" {
		r = r.WithContext(middleware.WithOwnerID(r.Context(), ownerID))
	}
	return r
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Status string                 `json:"status"`
		Data   map[string]interface{} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Data
}

func TestBatchInitiateRequiresAuth(t *testing.T) {
	h, _, _ := newTestHandlers()

	w := httptest.NewRecorder()
	h.BatchInitiate()(w, authedRequest("POST", "/upload/batch-initiate", []byte(`{}`), ""))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestBatchInitiateEmptyBody(t *testing.T) {
	h, _, _ := newTestHandlers()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/upload/batch-initiate", nil)
	r = r.WithContext(middleware.WithOwnerID(r.Context(), "owner-1"))
	h.BatchInitiate()(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestBatchInitiateRejectsUnsupportedFile(t *testing.T) {
	h, _, _ := newTestHandlers()

	body := []byte(`{"files":[{"filename":"payload.exe","size":10}]}`)
	w := httptest.NewRecorder()
	h.BatchInitiate()(w, authedRequest("POST", "/upload/batch-initiate", body, "owner-1"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestBatchInitiateInline(t *testing.T) {
	h, _, queue := newTestHandlers()

	body := []byte(`{"files":[
		{"filename":"a.jpg","size":1024},
		{"filename":"b.png","size":2048},
		{"filename":"c.pdf","size":4096}
	]}`)
	w := httptest.NewRecorder()
	h.BatchInitiate()(w, authedRequest("POST", "/upload/batch-initiate", body, "owner-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	if data["status"] != string(types.BatchCompleted) {
		t.Errorf("expected completed status, got %v", data["status"])
	}
	grants, ok := data["upload_grants"].([]interface{})
	if !ok || len(grants) != 3 {
		t.Errorf("expected 3 grants inline, got %v", data["upload_grants"])
	}
	if len(queue.messages) != 0 {
		t.Error("inline batch must not enqueue")
	}
}

func TestBatchInitiateChunked(t *testing.T) {
	h, _, queue := newTestHandlers()

	files := make([]map[string]interface{}, 60)
	for i := range files {
		files[i] = map[string]interface{}{"filename": fmt.Sprintf("f-%03d.jpg", i), "size": 1024}
	}
	body, _ := json.Marshal(map[string]interface{}{"files": files})

	w := httptest.NewRecorder()
	h.BatchInitiate()(w, authedRequest("POST", "/upload/batch-initiate", body, "owner-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	if data["status"] != string(types.BatchProcessing) {
		t.Errorf("expected processing status, got %v", data["status"])
	}
	if data["total_chunks"] != float64(2) {
		t.Errorf("expected 2 chunks for 60 files, got %v", data["total_chunks"])
	}
	if _, ok := data["upload_grants"]; ok {
		t.Error("chunked response must not carry grants")
	}
	if len(queue.messages) != 2 {
		t.Errorf("expected 2 queue messages, got %d", len(queue.messages))
	}
}

func TestBatchStatusOwnerMismatch(t *testing.T) {
	h, store, _ := newTestHandlers()
	store.Create(context.Background(), &types.BatchRecord{BatchID: "b1", OwnerID: "owner-2", Status: types.BatchProcessing})

	w := httptest.NewRecorder()
	h.BatchStatus()(w, authedRequest("GET", "/upload/batch-status?batch_id=b1", nil, "owner-1"))

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestBatchStatusMissing(t *testing.T) {
	h, _, _ := newTestHandlers()

	w := httptest.NewRecorder()
	h.BatchStatus()(w, authedRequest("GET", "/upload/batch-status?batch_id=nope", nil, "owner-1"))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestBatchStatusComputesProgress(t *testing.T) {
	h, store, _ := newTestHandlers()
	store.Create(context.Background(), &types.BatchRecord{
		BatchID: "m1", OwnerID: "owner-1", Status: types.BatchProcessing,
		TotalFiles: 100, ProcessedFiles: 50,
		ChunkIDs: []string{"c1", "c2"}, TotalChunks: 2,
	})
	store.Create(context.Background(), &types.BatchRecord{
		BatchID: "c1", OwnerID: "owner-1", ParentBatchID: "m1",
		Status: types.BatchCompleted, TotalFiles: 50, ProcessedFiles: 50,
	})
	store.Create(context.Background(), &types.BatchRecord{
		BatchID: "c2", OwnerID: "owner-1", ParentBatchID: "m1",
		Status: types.BatchQueued, TotalFiles: 50,
	})

	w := httptest.NewRecorder()
	h.BatchStatus()(w, authedRequest("GET", "/upload/batch-status?batch_id=m1", nil, "owner-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	data := decodeData(t, w)
	if data["progress_pct"] != float64(50) {
		t.Errorf("expected 50%% progress, got %v", data["progress_pct"])
	}
	chunks, ok := data["chunks"].([]interface{})
	if !ok || len(chunks) != 2 {
		t.Errorf("expected 2 chunk summaries, got %v", data["chunks"])
	}
}

func TestBatchChunkURLsOutOfRange(t *testing.T) {
	h, store, _ := newTestHandlers()
	store.Create(context.Background(), &types.BatchRecord{
		BatchID: "m1", OwnerID: "owner-1", Status: types.BatchProcessing,
		ChunkIDs: []string{"c1"}, TotalChunks: 1,
	})

	body := []byte(`{"batch_id":"m1","chunk_index":5}`)
	w := httptest.NewRecorder()
	h.BatchChunkURLs()(w, authedRequest("POST", "/upload/batch-chunk-urls", body, "owner-1"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestBatchChunkURLsReissues(t *testing.T) {
	h, store, _ := newTestHandlers()
	store.Create(context.Background(), &types.BatchRecord{
		BatchID: "m1", OwnerID: "owner-1", Status: types.BatchProcessing,
		ChunkIDs: []string{"c1"}, TotalChunks: 1,
	})
	store.Create(context.Background(), &types.BatchRecord{
		BatchID: "c1", OwnerID: "owner-1", ParentBatchID: "m1",
		Status: types.BatchCompleted, TotalFiles: 2,
		FileNames: []string{"a.jpg", "b.jpg"},
	})

	body := []byte(`{"batch_id":"m1","chunk_index":0}`)
	w := httptest.NewRecorder()
	h.BatchChunkURLs()(w, authedRequest("POST", "/upload/batch-chunk-urls", body, "owner-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	grants, ok := data["upload_grants"].([]interface{})
	if !ok || len(grants) != 2 {
		t.Fatalf("expected 2 grants, got %v", data["upload_grants"])
	}
	first := grants[0].(map[string]interface{})
	if first["upload_url"] == "" || first["upload_url"] == nil {
		t.Error("re-issued grant must carry a fresh url")
	}
	if data["expires_in"] != float64(900) {
		t.Errorf("expected 900s expiry, got %v", data["expires_in"])
	}
}

func TestSetGrantTTLs(t *testing.T) {
	h, store, _ := newTestHandlers()
	h.SetGrantTTLs(30*time.Minute, 5*time.Minute)

	store.Create(context.Background(), &types.BatchRecord{
		BatchID: "m1", OwnerID: "owner-1", Status: types.BatchProcessing,
		ChunkIDs: []string{"c1"}, TotalChunks: 1,
	})
	store.Create(context.Background(), &types.BatchRecord{
		BatchID: "c1", OwnerID: "owner-1", ParentBatchID: "m1",
		Status: types.BatchCompleted, TotalFiles: 1,
		FileNames: []string{"a.jpg"},
	})

	w := httptest.NewRecorder()
	h.BatchChunkURLs()(w, authedRequest("POST", "/upload/batch-chunk-urls",
		[]byte(`{"batch_id":"m1","chunk_index":0}`), "owner-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if data := decodeData(t, w); data["expires_in"] != float64(300) {
		t.Errorf("chunk grants must use the configured expiry, got %v", data["expires_in"])
	}

	w = httptest.NewRecorder()
	h.UploadInitiate()(w, authedRequest("POST", "/upload/initiate",
		[]byte(`{"filename":"photo.jpg","size":1024}`), "owner-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	grant := decodeData(t, w)["grant"].(map[string]interface{})
	expiresAt := int64(grant["expires_at"].(float64))
	lo := time.Now().Add(29 * time.Minute).Unix()
	hi := time.Now().Add(31 * time.Minute).Unix()
	if expiresAt < lo || expiresAt > hi {
		t.Errorf("direct grant must use the configured expiry, got expires_at=%d", expiresAt)
	}
}

func TestUploadInitiateSingleFile(t *testing.T) {
	h, _, _ := newTestHandlers()

	body := []byte(`{"filename":"photo.jpg","size":1024,"content_type":"image/jpeg"}`)
	w := httptest.NewRecorder()
	h.UploadInitiate()(w, authedRequest("POST", "/upload/initiate", body, "owner-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	if data["file_id"] == nil || data["file_id"] == "" {
		t.Error("expected a generated file id")
	}
	grant := data["grant"].(map[string]interface{})
	if grant["mode"] != string(types.ModeSimple) {
		t.Errorf("small file must get a simple grant, got %v", grant["mode"])
	}
	if grant["upload_url"] == nil {
		t.Error("expected an upload url")
	}
}

func TestUploadInitiateMultipart(t *testing.T) {
	h, _, _ := newTestHandlers()

	body := []byte(fmt.Sprintf(`{"filename":"movie.mp4","size":%d}`, 150*1024*1024))
	w := httptest.NewRecorder()
	h.UploadInitiate()(w, authedRequest("POST", "/upload/initiate", body, "owner-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	grant := data["grant"].(map[string]interface{})
	if grant["mode"] != string(types.ModeMultipart) {
		t.Fatalf("large file must get a multipart grant, got %v", grant["mode"])
	}
	parts := grant["parts"].([]interface{})
	if len(parts) != 30 {
		t.Errorf("expected 30 parts for 150 MiB, got %d", len(parts))
	}
}

func TestUploadCompleteForeignKey(t *testing.T) {
	h, _, _ := newTestHandlers()

	body := []byte(`{"storage_key":"owner-2/originals/2026/03/a.mp4","upload_id":"s1","parts":[{"part_number":1,"etag":"e1"}]}`)
	w := httptest.NewRecorder()
	h.UploadComplete()(w, authedRequest("POST", "/upload/complete", body, "owner-1"))

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestUploadComplete(t *testing.T) {
	h, _, _ := newTestHandlers()

	body := []byte(`{"storage_key":"owner-1/originals/2026/03/a.mp4","upload_id":"s1","parts":[
		{"part_number":1,"etag":"e1"},{"part_number":2,"etag":"e2"}
	]}`)
	w := httptest.NewRecorder()
	h.UploadComplete()(w, authedRequest("POST", "/upload/complete", body, "owner-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	if data["etag"] != "etag-2" {
		t.Errorf("expected completion etag, got %v", data["etag"])
	}
}

func TestObjectStatusForeignKey(t *testing.T) {
	h, _, _ := newTestHandlers()

	w := httptest.NewRecorder()
	h.ObjectStatus()(w, authedRequest("GET", "/upload/object-status?key=owner-2/originals/2026/03/a.jpg", nil, "owner-1"))

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestObjectStatus(t *testing.T) {
	h, _, _ := newTestHandlers()

	w := httptest.NewRecorder()
	h.ObjectStatus()(w, authedRequest("GET", "/upload/object-status?key=owner-1/originals/2026/03/a.jpg", nil, "owner-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	data := decodeData(t, w)
	if data["size"] != float64(42) {
		t.Errorf("expected stat payload, got %v", data)
	}
}

func TestObjectStatusMissing(t *testing.T) {
	h, _, _ := newTestHandlers()

	w := httptest.NewRecorder()
	h.ObjectStatus()(w, authedRequest("GET", "/upload/object-status?key=owner-1/originals/2026/03/gone.jpg", nil, "owner-1"))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
