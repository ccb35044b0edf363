// Package filex contains filesystem helpers for the client data directory and
// for reading citizen attachments into memory.
package filex

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// MaxAttachmentSize bounds a single attachment read into memory.
const MaxAttachmentSize = 10 << 20

// EnsureDir creates base/sub (0700) if needed and returns its path.
func EnsureDir(base, sub string) (string, error) {
	dir := filepath.Join(base, sub)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// EncodedFile is a file read into memory and encoded for inline storage.
type EncodedFile struct {
	Name string
	// Data is standard base64.
	Data string
	// MIME is detected from content, not from the extension.
	MIME string
	Size int
}

// ReadAttachment reads path, detects its MIME type and base64-encodes it.
func ReadAttachment(path string) (*EncodedFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if fi.Size() > MaxAttachmentSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, MaxAttachmentSize)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Encode(filepath.Base(path), raw), nil
}

// Encode wraps raw bytes as an EncodedFile named name.
func Encode(name string, raw []byte) *EncodedFile {
	return &EncodedFile{
		Name: name,
		Data: base64.StdEncoding.EncodeToString(raw),
		MIME: mimetype.Detect(raw).String(),
		Size: len(raw),
	}
}

// Decode returns the raw bytes of base64 data produced by Encode.
func Decode(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
