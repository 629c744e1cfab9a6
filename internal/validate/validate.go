// Package validate is the validator registry (C6): a static map from
// lower-cased file extension to a validator capability. Validators are
// pure — they read the file and never mutate the store — and honour a
// cooperative cancellation flag at natural work-unit boundaries.
package validate

import (
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fspulse/fspulse/internal/model"
)

// Cancelled is the cooperative cancellation flag passed to every
// validator call; validators check it between their natural work
// units (blocks, pages, frames).
type Cancelled = *atomic.Bool

// Result is what a validator reports for one file.
type Result struct {
	State model.ValidationState
	Error string
}

// Validator maps a file path to Valid | Invalid(msg) | NoValidator.
type Validator interface {
	Validate(path string, cancelled Cancelled) Result

	// WantsSteadyTick reports whether this validator benefits from a
	// periodic progress tick even when it cannot report granular
	// block/page progress (mirrors the original's per-validator
	// wants_steady_tick hint).
	WantsSteadyTick() bool
}

// Registry is the static extension -> validator map.
type Registry struct {
	byExt map[string]Validator
}

// NewRegistry builds the built-in registry: lossless audio containers
// (FLAC), still-image formats (JPEG/PNG), and PDF.
func NewRegistry() *Registry {
	flacV := &flacValidator{}
	imageV := &imageValidator{}
	pdfV := &pdfValidator{}

	return &Registry{byExt: map[string]Validator{
		"flac": flacV,
		"jpg":  imageV,
		"jpeg": imageV,
		"png":  imageV,
		"pdf":  pdfV,
	}}
}

// ForPath returns the validator registered for path's extension, or
// nil if none is registered (the candidate should be reported
// NoValidator).
func (r *Registry) ForPath(path string) Validator {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return nil
	}
	return r.byExt[ext]
}

func interrupted(cancelled Cancelled) bool {
	return cancelled != nil && cancelled.Load()
}
