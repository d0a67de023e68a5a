// Package upload validates user-submitted image files before any side
// effect (blob write, row insert) takes place.
package upload

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"server/internal/domain"
)

// MaxFileSize is the upload ceiling. HEIC captures from recent phones
// regularly exceed 10 MB, hence the generous limit.
const MaxFileSize = 15 * 1024 * 1024

var allowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
	"image/heic": {},
	"image/heif": {},
}

var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".heic": {},
	".heif": {},
}

var magicPrefixes = [][]byte{
	{0xff, 0xd8, 0xff},       // JPEG
	{0x89, 0x50, 0x4e, 0x47}, // PNG
	{0x52, 0x49, 0x46, 0x46}, // RIFF (WEBP)
}

// CheckFile validates filename, declared MIME type, size and leading bytes.
// The MIME type is checked first; browsers and phones often misreport it, so
// the filename extension is accepted as a fallback. All failures wrap
// domain.ErrInvalidFile.
func CheckFile(filename, mimeType string, size int64, head []byte) error {
	if size == 0 {
		return fmt.Errorf("%w: file is empty", domain.ErrInvalidFile)
	}
	if size > MaxFileSize {
		return fmt.Errorf("%w: file size %.2f MB exceeds 15 MB limit", domain.ErrInvalidFile, float64(size)/1024/1024)
	}

	mime := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if _, ok := allowedMIMETypes[mime]; !ok {
		ext := strings.ToLower(filepath.Ext(filename))
		if _, ok := allowedExtensions[ext]; !ok {
			return fmt.Errorf("%w: unsupported type %q (only JPG, PNG, WEBP, HEIC and HEIF are accepted)", domain.ErrInvalidFile, mimeType)
		}
	}

	if len(head) > 0 && !looksLikeImage(head, mime, filename) {
		return fmt.Errorf("%w: file content is not a recognized image", domain.ErrInvalidFile)
	}

	return nil
}

// looksLikeImage sniffs well-known signatures. HEIC/HEIF containers use an
// ftyp box rather than a fixed prefix, so they are matched separately.
func looksLikeImage(head []byte, mime, filename string) bool {
	for _, prefix := range magicPrefixes {
		if bytes.HasPrefix(head, prefix) {
			return true
		}
	}
	if len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")) {
		return true
	}
	// Sniffing is best-effort only for HEIC variants with short heads.
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".heic" || ext == ".heif" || mime == "image/heic" || mime == "image/heif" {
		return true
	}
	return false
}

// SanitizeName reduces an uploaded filename to a safe storage component.
func SanitizeName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
	name = strings.Trim(name, "-.")
	if name == "" {
		name = "upload"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}
