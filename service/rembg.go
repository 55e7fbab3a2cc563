package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/BlusMotif/BlusWipe/config"
)

// Model names accepted by the inference backend. The set is fixed at
// build time; requests naming anything else fail before any inference
// attempt.
const (
	ModelU2net         = "u2net"
	ModelU2netp        = "u2netp"
	ModelU2netHumanSeg = "u2net_human_seg"
	ModelSilueta       = "silueta"
	ModelIsnetGeneral  = "isnet-general-use"
)

var availableModels = []string{
	ModelU2net,
	ModelU2netp,
	ModelU2netHumanSeg,
	ModelSilueta,
	ModelIsnetGeneral,
}

var modelDescriptions = map[string]string{
	ModelU2net:         "General purpose - Good for most images",
	ModelU2netp:        "Lightweight version - Faster processing",
	ModelU2netHumanSeg: "Optimized for people",
	ModelSilueta:       "High accuracy for objects",
	ModelIsnetGeneral:  "Latest model - Best quality",
}

// AvailableModels returns the supported model names in a stable order.
func AvailableModels() []string {
	out := make([]string, len(availableModels))
	copy(out, availableModels)
	return out
}

// ModelDescriptions returns human-readable descriptions per model.
func ModelDescriptions() map[string]string {
	out := make(map[string]string, len(modelDescriptions))
	for k, v := range modelDescriptions {
		out[k] = v
	}
	return out
}

// IsValidModel reports whether name is in the supported set.
func IsValidModel(name string) bool {
	_, ok := modelDescriptions[name]
	return ok
}

// Remover is the boundary to the background-removal backend. The
// returned bytes are a PNG with an alpha channel.
type Remover interface {
	Infer(ctx context.Context, image []byte, model string) ([]byte, error)
}

// RembgClient talks to a rembg-compatible HTTP inference server.
type RembgClient struct {
	endpoint   string
	timeout    time.Duration
	useGPU     bool
	httpClient *http.Client
}

func NewRembgClient(cfg *config.RembgConfig, useGPU bool) *RembgClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &RembgClient{
		endpoint: cfg.Endpoint,
		timeout:  timeout,
		useGPU:   useGPU,
		httpClient: &http.Client{
			// Slack over the per-request deadline so context
			// cancellation is what callers observe.
			Timeout: timeout + 5*time.Second,
		},
	}
}

// Infer sends the image to the backend and returns the cut-out PNG.
// The call is bounded by the configured timeout regardless of the
// parent context.
func (c *RembgClient) Infer(ctx context.Context, image []byte, model string) ([]byte, error) {
	if !IsValidModel(model) {
		return nil, NewError(KindUnknownModel, fmt.Sprintf("unknown model %q", model))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "input")
	if err != nil {
		return nil, WrapError(KindInternal, "failed to build inference request", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, WrapError(KindInternal, "failed to build inference request", err)
	}
	if err := writer.Close(); err != nil {
		return nil, WrapError(KindInternal, "failed to build inference request", err)
	}

	query := url.Values{}
	query.Set("model", model)
	if c.useGPU {
		query.Set("gpu", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/api/remove?"+query.Encode(), body)
	if err != nil {
		return nil, WrapError(KindInternal, "failed to build inference request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "image/png")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, WrapError(KindTimeout, "inference timed out", err)
		}
		return nil, WrapError(KindResourceExhausted, "inference backend unavailable", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, WrapError(KindTimeout, "inference timed out", err)
		}
		return nil, WrapError(KindInternal, "failed to read inference response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return out, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, NewError(KindCorruptImage, "inference backend rejected the image")
	case resp.StatusCode == http.StatusInsufficientStorage || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, NewError(KindResourceExhausted, "inference backend out of resources")
	default:
		return nil, NewError(KindInternal, fmt.Sprintf("inference backend returned status %d", resp.StatusCode))
	}
}

// Ping checks backend reachability without performing inference.
func (c *RembgClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("inference backend returned status %d", resp.StatusCode)
	}
	return nil
}
