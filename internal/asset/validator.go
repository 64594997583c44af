// Package asset validates downloaded payloads before publishing.
package asset

import (
	"fmt"
	"path"
	"strings"
)

// MaxPayloadBytes is the largest payload the platform accepts.
const MaxPayloadBytes = 20 * 1024 * 1024

// DefaultExtension is assumed when a URL carries no extension.
const DefaultExtension = "png"

var allowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"bmp":  {},
	"tga":  {},
}

// RejectionError describes why a payload was refused. It is per-item and
// never fatal to a run.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "asset rejected: " + e.Reason
}

// Validator applies the platform's size and format constraints. The zero
// value is usable.
type Validator struct{}

// Validate accepts or rejects a payload of byteLength bytes downloaded from
// rawURL. It is pure: no side effects, no network.
func (Validator) Validate(byteLength int, rawURL string) error {
	if byteLength > MaxPayloadBytes {
		return &RejectionError{Reason: fmt.Sprintf("payload %d bytes exceeds %d byte limit", byteLength, MaxPayloadBytes)}
	}
	ext := Extension(rawURL)
	if _, ok := allowedExtensions[ext]; !ok {
		return &RejectionError{Reason: fmt.Sprintf("unsupported extension %q", ext)}
	}
	return nil
}

// Extension returns the lower-cased file extension of rawURL with any query
// string stripped and without the leading dot. URLs without an extension
// report DefaultExtension.
func Extension(rawURL string) string {
	trimmed := rawURL
	if idx := strings.IndexByte(trimmed, '?'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(trimmed)), ".")
	if ext == "" {
		return DefaultExtension
	}
	return ext
}
