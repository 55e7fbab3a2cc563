package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BlusMotif/BlusWipe/service"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubRemover stands in for the inference backend.
type stubRemover struct {
	err error
}

func (s *stubRemover) Infer(ctx context.Context, img []byte, model string) ([]byte, error) {
	if !service.IsValidModel(model) {
		return nil, service.NewError(service.KindUnknownModel, "unknown model "+model)
	}
	if s.err != nil {
		return nil, s.err
	}
	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, service.NewError(service.KindCorruptImage, "cannot decode")
	}
	out := image.NewNRGBA(src.Bounds())
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("Failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

type testFile struct {
	field    string
	filename string
	data     []byte
}

func multipartBody(t *testing.T, files []testFile, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatalf("Failed to write form file: %v", err)
		}
	}
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func setupRouter(t *testing.T, remover service.Remover) (*gin.Engine, *service.OutputStore) {
	t.Helper()
	scratch, err := service.NewScratchStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create scratch store: %v", err)
	}
	outputs, err := service.NewOutputStore(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("Failed to create output store: %v", err)
	}

	pipeline := service.NewPipeline(service.PipelineConfig{
		MaxFileSize:   1 << 20,
		AllowedExts:   []string{"jpg", "jpeg", "png", "webp"},
		DefaultModel:  service.ModelU2net,
		MaxBatchFiles: 2,
		MaxImageDim:   512,
		ProcessingDim: 256,
	}, scratch, remover)

	h := NewImageHandler(pipeline, outputs, nil, 1<<20)

	router := gin.New()
	router.POST("/api/remove-background", h.RemoveBackground)
	router.POST("/api/batch", h.Batch)
	router.GET("/api/download/:filename", h.Download)
	return router, outputs
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse error body: %v", err)
	}
	return body
}

func TestRemoveBackgroundSuccess(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{})

	body, contentType := multipartBody(t,
		[]testFile{{"file", "photo.png", pngBytes(t, 16, 16)}},
		map[string]string{"model": "u2net"},
	)

	req := httptest.NewRequest("POST", "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Expected image/png, got %s", got)
	}
	if got := w.Header().Get("Content-Disposition"); got != "attachment; filename=processed_photo.png" {
		t.Errorf("Unexpected Content-Disposition: %s", got)
	}
	if _, err := png.Decode(bytes.NewReader(w.Body.Bytes())); err != nil {
		t.Errorf("Response is not a valid PNG: %v", err)
	}
}

func TestRemoveBackgroundNoFile(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{})

	body, contentType := multipartBody(t, nil, map[string]string{"model": "u2net"})
	req := httptest.NewRequest("POST", "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if errorBody(t, w)["kind"] != "invalid_input" {
		t.Errorf("Expected kind invalid_input, got %s", errorBody(t, w)["kind"])
	}
}

func TestRemoveBackgroundTraversalFilename(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{})

	body, contentType := multipartBody(t,
		[]testFile{{"file", "../../etc/passwd.png", pngBytes(t, 8, 8)}}, nil)
	req := httptest.NewRequest("POST", "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestRemoveBackgroundBadEnhancement(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{})

	body, contentType := multipartBody(t,
		[]testFile{{"file", "photo.png", pngBytes(t, 8, 8)}},
		map[string]string{"enhancement": "very strong"},
	)
	req := httptest.NewRequest("POST", "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestRemoveBackgroundClampSignaled(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{})

	body, contentType := multipartBody(t,
		[]testFile{{"file", "photo.png", pngBytes(t, 8, 8)}},
		map[string]string{"enhancement": "9.5"},
	)
	req := httptest.NewRequest("POST", "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Enhancement"); got != "2" {
		t.Errorf("Expected clamped enhancement 2 in header, got %q", got)
	}
}

func TestRemoveBackgroundZeroEnhancementClamped(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{})

	// An explicit zero is an out-of-range request, not an omitted
	// field, so it clamps to the minimum instead of the neutral 1.
	body, contentType := multipartBody(t,
		[]testFile{{"file", "photo.png", pngBytes(t, 8, 8)}},
		map[string]string{"enhancement": "0"},
	)
	req := httptest.NewRequest("POST", "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Enhancement"); got != "0.5" {
		t.Errorf("Expected clamped enhancement 0.5 in header, got %q", got)
	}
}

func TestRemoveBackgroundDefaultEnhancement(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{})

	body, contentType := multipartBody(t,
		[]testFile{{"file", "photo.png", pngBytes(t, 8, 8)}}, nil)
	req := httptest.NewRequest("POST", "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Enhancement"); got != "1" {
		t.Errorf("Expected neutral enhancement 1 in header, got %q", got)
	}
}

func TestRemoveBackgroundUnknownModel(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{})

	body, contentType := multipartBody(t,
		[]testFile{{"file", "photo.png", pngBytes(t, 8, 8)}},
		map[string]string{"model": "u2net-mega"},
	)
	req := httptest.NewRequest("POST", "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if errorBody(t, w)["kind"] != "unknown_model" {
		t.Errorf("Expected kind unknown_model, got %s", errorBody(t, w)["kind"])
	}
}

func TestRemoveBackgroundTimeout(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{
		err: service.NewError(service.KindTimeout, "inference timed out"),
	})

	body, contentType := multipartBody(t,
		[]testFile{{"file", "photo.png", pngBytes(t, 8, 8)}}, nil)
	req := httptest.NewRequest("POST", "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected status 504, got %d", w.Code)
	}
}

func TestBatchSuccess(t *testing.T) {
	router, outputs := setupRouter(t, &stubRemover{})

	body, contentType := multipartBody(t, []testFile{
		{"files", "one.png", pngBytes(t, 8, 8)},
		{"files", "two.png", pngBytes(t, 8, 8)},
	}, nil)
	req := httptest.NewRequest("POST", "/api/batch", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Results []map[string]string `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(resp.Results))
	}
	for _, res := range resp.Results {
		if res["status"] != "success" {
			t.Errorf("Expected success, got %v", res)
		}
		if !strings.HasPrefix(res["download_url"], "/api/download/") {
			t.Errorf("Expected local download URL, got %s", res["download_url"])
		}
	}
	if outputs.Count() != 2 {
		t.Errorf("Expected 2 stored outputs, got %d", outputs.Count())
	}
}

func TestBatchMixedOutcomes(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{})

	body, contentType := multipartBody(t, []testFile{
		{"files", "good.png", pngBytes(t, 8, 8)},
		{"files", "bad.png", []byte("not an image")},
	}, nil)
	req := httptest.NewRequest("POST", "/api/batch", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp struct {
		Results []map[string]string `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Results[0]["status"] != "success" {
		t.Errorf("Expected first file to succeed: %v", resp.Results[0])
	}
	if resp.Results[1]["status"] != "error" {
		t.Errorf("Expected second file to fail: %v", resp.Results[1])
	}
	if resp.Results[1]["kind"] != "invalid_input" {
		t.Errorf("Expected invalid_input kind, got %s", resp.Results[1]["kind"])
	}
}

func TestBatchUnreadablePart(t *testing.T) {
	router, outputs := setupRouter(t, &stubRemover{})

	// A file header with neither in-memory content nor a temp file
	// behind it cannot be opened. The client should see a server-side
	// error for that entry, not a validation complaint.
	req := httptest.NewRequest("POST", "/api/batch", http.NoBody)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	req.MultipartForm = &multipart.Form{
		File: map[string][]*multipart.FileHeader{
			"files": {
				{Filename: "ghost.png"},
			},
		},
	}
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Results []map[string]string `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(resp.Results))
	}
	if resp.Results[0]["status"] != "error" {
		t.Errorf("Expected error status, got %v", resp.Results[0])
	}
	if resp.Results[0]["kind"] != "internal_error" {
		t.Errorf("Expected internal_error kind, got %s", resp.Results[0]["kind"])
	}
	if resp.Results[0]["original_filename"] != "ghost.png" {
		t.Errorf("Expected original filename in entry, got %v", resp.Results[0])
	}
	if outputs.Count() != 0 {
		t.Errorf("No output may be stored for an unreadable part, got %d", outputs.Count())
	}
}

func TestBatchOverflowRejectedWhole(t *testing.T) {
	router, outputs := setupRouter(t, &stubRemover{})

	// Limit is 2
	body, contentType := multipartBody(t, []testFile{
		{"files", "one.png", pngBytes(t, 8, 8)},
		{"files", "two.png", pngBytes(t, 8, 8)},
		{"files", "three.png", pngBytes(t, 8, 8)},
	}, nil)
	req := httptest.NewRequest("POST", "/api/batch", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if outputs.Count() != 0 {
		t.Errorf("No output may be stored for a rejected batch, got %d", outputs.Count())
	}
}

func TestDownload(t *testing.T) {
	router, outputs := setupRouter(t, &stubRemover{})

	out, err := outputs.Save("photo.png", service.ModelU2net, pngBytes(t, 4, 4))
	if err != nil {
		t.Fatalf("Failed to save output: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/download/"+out.StoredName, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if _, err := png.Decode(bytes.NewReader(w.Body.Bytes())); err != nil {
		t.Errorf("Download is not a valid PNG: %v", err)
	}
}

func TestDownloadNotFound(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{})

	req := httptest.NewRequest("GET", "/api/download/batch_unknown.png", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestDownloadTraversal(t *testing.T) {
	router, _ := setupRouter(t, &stubRemover{})

	req := httptest.NewRequest("GET", "/api/download/..%2F..%2Fetc%2Fpasswd", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest && w.Code != http.StatusNotFound {
		t.Errorf("Expected traversal to be rejected, got %d", w.Code)
	}
}
