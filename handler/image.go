package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/BlusMotif/BlusWipe/model"
	"github.com/BlusMotif/BlusWipe/pkg/logger"
	"github.com/BlusMotif/BlusWipe/service"
	"github.com/gin-gonic/gin"
)

type ImageHandler struct {
	pipeline    *service.Pipeline
	outputs     *service.OutputStore
	objects     *service.ObjectStore // nil unless object storage is enabled
	maxFileSize int64
}

func NewImageHandler(pipeline *service.Pipeline, outputs *service.OutputStore, objects *service.ObjectStore, maxFileSize int64) *ImageHandler {
	return &ImageHandler{
		pipeline:    pipeline,
		outputs:     outputs,
		objects:     objects,
		maxFileSize: maxFileSize,
	}
}

// RemoveBackground handles a single-image removal request and streams
// the resulting PNG back to the caller.
func (h *ImageHandler) RemoveBackground(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondKind(c, service.KindInvalidInput, "no file provided")
		return
	}
	defer file.Close()

	// Declared size check before buffering anything.
	if header.Size > h.maxFileSize {
		respondKind(c, service.KindInvalidInput,
			fmt.Sprintf("file too large (max %d bytes)", h.maxFileSize))
		return
	}

	opts, ok := parseOptions(c)
	if !ok {
		return
	}
	h.recordModel(c, opts)

	upload, err := readUpload(file, header, h.maxFileSize)
	if err != nil {
		respondError(c, err)
		return
	}

	outcome, err := h.pipeline.Process(c.Request.Context(), upload, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=processed_%s", header.Filename))
	c.Header("X-Enhancement", strconv.FormatFloat(outcome.Enhancement, 'f', -1, 64))
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, outcome.MIMEType, outcome.Data)
}

// Batch processes multiple images in one request. Failures are
// per-file; only an oversized batch is rejected whole.
func (h *ImageHandler) Batch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondKind(c, service.KindInvalidInput, "invalid multipart form")
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		respondKind(c, service.KindInvalidInput, "no files provided")
		return
	}
	// Count check before any file is read or processed.
	if len(files) > h.pipeline.MaxBatchFiles() {
		respondKind(c, service.KindInvalidInput,
			fmt.Sprintf("too many files: %d (max %d)", len(files), h.pipeline.MaxBatchFiles()))
		return
	}

	opts, ok := parseOptions(c)
	if !ok {
		return
	}
	h.recordModel(c, opts)

	// A part that cannot be read is a server-side failure for that
	// entry alone; nothing aborts the batch here.
	uploads := make([]*service.UploadDescriptor, 0, len(files))
	openErrs := make([]error, len(files))
	for i, fh := range files {
		upload, err := openUpload(fh, h.maxFileSize)
		if err != nil {
			openErrs[i] = err
			continue
		}
		uploads = append(uploads, upload)
	}

	results, err := h.pipeline.ProcessBatch(c.Request.Context(), uploads, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	entries := make([]gin.H, 0, len(files))
	next := 0
	for i, fh := range files {
		if openErrs[i] != nil {
			logger.Warn(c.Request.Context(), "failed to read batch part",
				"filename", fh.Filename,
				"error", openErrs[i],
			)
			entries = append(entries, gin.H{
				"original_filename": fh.Filename,
				"status":            model.StatusError,
				"kind":              string(service.KindInternal),
				"error":             service.ClientMessage(openErrs[i]),
			})
			continue
		}
		res := results[next]
		next++
		if res.Err != nil {
			entries = append(entries, gin.H{
				"original_filename": res.OriginalFilename,
				"status":            model.StatusError,
				"kind":              string(service.KindOf(res.Err)),
				"error":             service.ClientMessage(res.Err),
			})
			continue
		}
		entries = append(entries, h.storeResult(c, res))
	}

	c.JSON(http.StatusOK, gin.H{"results": entries})
}

// recordModel notes the effective model on the request context so the
// access log can carry it.
func (h *ImageHandler) recordModel(c *gin.Context, opts service.Options) {
	m := opts.Model
	if m == "" {
		m = h.pipeline.DefaultModel()
	}
	c.Set(string(logger.ModelKey), m)
}

// storeResult persists one successful batch output and builds its
// download reference.
func (h *ImageHandler) storeResult(c *gin.Context, res service.BatchItemResult) gin.H {
	output, err := h.outputs.Save(res.OriginalFilename, res.Outcome.Model, res.Outcome.Data)
	if err != nil {
		return gin.H{
			"original_filename": res.OriginalFilename,
			"status":            model.StatusError,
			"kind":              string(service.KindOf(err)),
			"error":             service.ClientMessage(err),
		}
	}

	downloadURL := "/api/download/" + output.StoredName
	if h.objects != nil {
		url, err := h.objects.Upload(c.Request.Context(), output.StoredName, res.Outcome.Data)
		if err != nil {
			logger.Warn(c.Request.Context(), "object storage upload failed, serving locally", "error", err)
		} else {
			downloadURL = url
		}
	}

	return gin.H{
		"original_filename": res.OriginalFilename,
		"output_filename":   output.StoredName,
		"download_url":      downloadURL,
		"status":            model.StatusSuccess,
	}
}

// Download serves a stored batch output.
func (h *ImageHandler) Download(c *gin.Context) {
	filename := c.Param("filename")

	// Stored names are always store-generated; anything path-like is
	// hostile.
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, "/\\") {
		respondKind(c, service.KindInvalidInput, "invalid filename")
		return
	}

	output := h.outputs.Get(filename)
	if output == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"kind":    "not_found",
			"message": "output not found or expired",
		})
		return
	}

	c.FileAttachment(h.outputs.Path(filename), output.StoredName)
}

// parseOptions reads the optional model and enhancement form fields.
// An absent enhancement field means the neutral strength; an explicit
// value, zero included, is passed through for clamping. A malformed
// value responds with an error and returns ok=false.
func parseOptions(c *gin.Context) (service.Options, bool) {
	opts := service.Options{
		Model:       c.PostForm("model"),
		Enhancement: service.DefaultEnhancement,
	}

	raw := c.PostForm("enhancement")
	if raw == "" {
		return opts, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		respondKind(c, service.KindInvalidInput, "enhancement must be a number")
		return opts, false
	}
	opts.Enhancement = v
	return opts, true
}

func readUpload(file multipart.File, header *multipart.FileHeader, maxSize int64) (*service.UploadDescriptor, error) {
	// One byte of slack lets the guard report oversize instead of a
	// silently truncated upload.
	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, service.WrapError(service.KindInternal, "failed to read upload", err)
	}
	return &service.UploadDescriptor{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func openUpload(fh *multipart.FileHeader, maxSize int64) (*service.UploadDescriptor, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, service.WrapError(service.KindInternal, "failed to open upload", err)
	}
	defer f.Close()
	return readUpload(f, fh, maxSize)
}

// respondError maps a pipeline error to its stable status and a
// {kind, message} body. Causes stay in the logs.
func respondError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	logger.Warn(c.Request.Context(), "request failed",
		"kind", string(kind),
		"error", err,
	)
	c.JSON(kind.HTTPStatus(), gin.H{
		"kind":    string(kind),
		"message": service.ClientMessage(err),
	})
}

func respondKind(c *gin.Context, kind service.ErrorKind, message string) {
	c.JSON(kind.HTTPStatus(), gin.H{
		"kind":    string(kind),
		"message": message,
	})
}
