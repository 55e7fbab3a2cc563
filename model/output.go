package model

import (
	"time"
)

// Output is a processed batch result retained for download until the
// sweeper or eviction removes it.
type Output struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	StoredName       string    `json:"stored_name"`
	Size             int64     `json:"size"`
	Model            string    `json:"model"`
	CreatedAt        time.Time `json:"created_at"`
}

// Per-file batch outcome status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
