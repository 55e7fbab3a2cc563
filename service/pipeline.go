package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"
)

// Options carries per-request processing parameters.
type Options struct {
	// Model selects the inference model; empty means the configured
	// default.
	Model string
	// Enhancement is the edge-enhancement strength. Out-of-range
	// values, zero included, are clamped and the applied value is
	// reported in the Outcome. Callers wanting the neutral strength
	// pass DefaultEnhancement.
	Enhancement float64
}

// Outcome is the result of one successfully processed upload.
type Outcome struct {
	Data        []byte
	MIMEType    string
	Model       string
	Enhancement float64
}

// BatchItemResult is the per-file outcome of a batch request. One
// file's failure does not abort its siblings.
type BatchItemResult struct {
	OriginalFilename string
	Outcome          *Outcome
	Err              error
}

// PipelineConfig is the immutable processing configuration, read once
// at startup.
type PipelineConfig struct {
	MaxFileSize   int64
	AllowedExts   []string
	DefaultModel  string
	MaxBatchFiles int
	MaxImageDim   int
	ProcessingDim int
}

// Pipeline drives one upload through validate, store, infer, encode
// and release. It holds no per-request state, so concurrent requests
// need no coordination beyond uniquely named scratch files.
type Pipeline struct {
	cfg     PipelineConfig
	guard   *FileGuard
	scratch *ScratchStore
	remover Remover
}

func NewPipeline(cfg PipelineConfig, scratch *ScratchStore, remover Remover) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		guard:   NewFileGuard(cfg.MaxFileSize, cfg.AllowedExts),
		scratch: scratch,
		remover: remover,
	}
}

// DefaultModel returns the configured default model name.
func (p *Pipeline) DefaultModel() string {
	return p.cfg.DefaultModel
}

// MaxBatchFiles returns the batch fan-out limit.
func (p *Pipeline) MaxBatchFiles() int {
	return p.cfg.MaxBatchFiles
}

// Process runs the full pipeline for a single upload. Scratch
// resources acquired along the way are released on every exit path.
func (p *Pipeline) Process(ctx context.Context, upload *UploadDescriptor, opts Options) (*Outcome, error) {
	start := time.Now()

	model := opts.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	enhancement := ClampEnhancement(opts.Enhancement)

	// Validation is pure and runs before any resource acquisition:
	// invalid input is rejected with no cleanup burden.
	res := p.guard.Validate(upload)
	if !res.Accepted {
		return nil, NewError(KindInvalidInput, res.Reason)
	}

	stored, err := p.prepare(upload.Data)
	if err != nil {
		return nil, err
	}

	handle, err := p.scratch.Acquire()
	if err != nil {
		return nil, err
	}
	defer p.scratch.Release(handle)

	if err := p.scratch.Write(handle, stored); err != nil {
		return nil, err
	}
	input, err := p.scratch.Read(handle)
	if err != nil {
		return nil, err
	}

	inferred, err := p.remover.Infer(ctx, input, model)
	if err != nil {
		return nil, err
	}

	cutout, _, err := image.Decode(bytes.NewReader(inferred))
	if err != nil {
		return nil, WrapError(KindInternal, "inference backend returned unusable image data", err)
	}

	output, err := EncodePNG(EnhanceEdges(cutout, enhancement))
	if err != nil {
		return nil, err
	}

	slog.Debug("image processed",
		"scratch_id", handle.ID(),
		"model", model,
		"format", res.Format,
		"enhancement", enhancement,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Outcome{
		Data:        output,
		MIMEType:    "image/png",
		Model:       model,
		Enhancement: enhancement,
	}, nil
}

// prepare enforces the dimension guard and downscales oversized
// images before they reach scratch and the inference backend.
func (p *Pipeline) prepare(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, WrapError(KindCorruptImage, "failed to read image header", err)
	}
	if cfg.Width > p.cfg.MaxImageDim || cfg.Height > p.cfg.MaxImageDim {
		return nil, NewError(KindInvalidInput,
			fmt.Sprintf("image too large (max %dx%d)", p.cfg.MaxImageDim, p.cfg.MaxImageDim))
	}
	if cfg.Width <= p.cfg.ProcessingDim && cfg.Height <= p.cfg.ProcessingDim {
		return data, nil
	}

	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return EncodePNG(DownscaleIfNeeded(img, p.cfg.ProcessingDim))
}

// ProcessBatch runs the single-file pipeline independently for each
// upload. A batch over the fan-out limit is rejected whole, before
// any file is validated or stored.
func (p *Pipeline) ProcessBatch(ctx context.Context, uploads []*UploadDescriptor, opts Options) ([]BatchItemResult, error) {
	if len(uploads) > p.cfg.MaxBatchFiles {
		return nil, NewError(KindInvalidInput,
			fmt.Sprintf("too many files: %d (max %d)", len(uploads), p.cfg.MaxBatchFiles))
	}

	results := make([]BatchItemResult, 0, len(uploads))
	for _, upload := range uploads {
		outcome, err := p.Process(ctx, upload, opts)
		results = append(results, BatchItemResult{
			OriginalFilename: upload.Filename,
			Outcome:          outcome,
			Err:              err,
		})
	}
	return results, nil
}
