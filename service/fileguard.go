package service

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
)

// UploadDescriptor is the raw inbound upload before validation. The
// declared filename is display metadata only and is never used as a
// filesystem path.
type UploadDescriptor struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ValidationResult reports whether an upload may enter the pipeline.
type ValidationResult struct {
	Accepted bool
	Format   string // detected format on acceptance: png, jpeg, webp
	Reason   string // rejection reason, client-safe
}

func accepted(format string) ValidationResult {
	return ValidationResult{Accepted: true, Format: format}
}

func rejected(reason string) ValidationResult {
	return ValidationResult{Reason: reason}
}

// FileGuard validates uploads before any resource is acquired.
// Pure inspection: no side effects.
type FileGuard struct {
	maxSize int64
	allowed map[string]bool
}

func NewFileGuard(maxSize int64, allowedExts []string) *FileGuard {
	allowed := make(map[string]bool, len(allowedExts))
	for _, ext := range allowedExts {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &FileGuard{maxSize: maxSize, allowed: allowed}
}

// Validate runs all checks in cheapest-first order. A file at exactly
// maxSize is accepted; one byte over is not.
func (g *FileGuard) Validate(d *UploadDescriptor) ValidationResult {
	if len(d.Data) == 0 {
		return rejected("empty file")
	}
	if int64(len(d.Data)) > g.maxSize {
		return rejected(fmt.Sprintf("file too large (max %d bytes)", g.maxSize))
	}

	if hasTraversal(d.Filename) {
		return rejected("invalid filename")
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(d.Filename), "."))
	if !g.allowed[ext] {
		return rejected(fmt.Sprintf("unsupported file extension %q", ext))
	}

	format := detectFormat(d.Data)
	if format == "" {
		return rejected("unrecognized image data")
	}
	// Spoofed extensions are rejected even when the magic bytes are a
	// valid image of another format.
	if !extMatchesFormat(ext, format) {
		return rejected(fmt.Sprintf("file content is %s but extension is %q", format, ext))
	}

	return accepted(format)
}

// hasTraversal rejects anything that could escape a directory if the
// name were ever joined to a path.
func hasTraversal(name string) bool {
	if name == "" {
		return true
	}
	if strings.Contains(name, "..") {
		return true
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return true
	}
	if strings.ContainsAny(name, "/\\") {
		return true
	}
	// Windows drive prefix, e.g. C:
	if len(name) >= 2 && name[1] == ':' {
		return true
	}
	return false
}

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	riffMagic = []byte("RIFF")
	webpMagic = []byte("WEBP")
)

// detectFormat identifies the true image format from leading magic
// bytes, independent of the declared extension or content type.
func detectFormat(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], pngMagic):
		return "png"
	case len(data) >= 3 && bytes.Equal(data[:3], jpegMagic):
		return "jpeg"
	case len(data) >= 12 && bytes.Equal(data[:4], riffMagic) && bytes.Equal(data[8:12], webpMagic):
		return "webp"
	default:
		return ""
	}
}

func extMatchesFormat(ext, format string) bool {
	switch format {
	case "jpeg":
		return ext == "jpg" || ext == "jpeg"
	default:
		return ext == format
	}
}
