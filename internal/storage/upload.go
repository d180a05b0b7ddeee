package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/entities"
)

// Kind separates cover images from downloadable book files.
type Kind string

const (
	KindCover Kind = "covers"
	KindFile  Kind = "files"
)

// ParseKind accepts "cover" or "file" and their plurals.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cover", "covers":
		return KindCover, nil
	case "file", "files":
		return KindFile, nil
	}
	return "", apperrors.Invalid("kind", "must be cover or file")
}

var coverTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Upload is a stored object ready to be referenced from a book submission.
type Upload struct {
	Key         string              `json:"key"`
	Kind        Kind                `json:"kind"`
	Format      entities.FileFormat `json:"format,omitempty"`
	ContentType string              `json:"content_type"`
	Size        int64               `json:"size"`
}

// Uploader validates and stores uploaded objects under fresh keys.
type Uploader struct {
	store    ObjectStore
	maxBytes int64
	now      func() time.Time
}

func NewUploader(store ObjectStore, maxBytes int64) *Uploader {
	return &Uploader{store: store, maxBytes: maxBytes, now: time.Now}
}

// Upload sniffs the content, checks it against the kind, and writes it to the
// store. size is the declared length; -1 if unknown.
func (u *Uploader) Upload(ctx context.Context, kind Kind, filename string, r io.Reader, size int64) (*Upload, error) {
	if u.maxBytes > 0 && size > u.maxBytes {
		return nil, apperrors.Invalid("file", fmt.Sprintf("exceeds the %d byte limit", u.maxBytes))
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, apperrors.Invalid("file", "is empty")
	}
	sniffed := http.DetectContentType(head)
	contentType := strings.TrimSpace(strings.Split(sniffed, ";")[0])

	up := &Upload{Kind: kind, ContentType: contentType, Size: size}
	var ext string
	switch kind {
	case KindCover:
		e, ok := coverTypes[contentType]
		if !ok {
			return nil, apperrors.Invalid("file", "cover must be a jpeg, png, webp or gif image")
		}
		ext = e
	case KindFile:
		format, err := fileFormat(filename, contentType)
		if err != nil {
			return nil, err
		}
		up.Format = format
		ext = "." + string(format)
	default:
		return nil, apperrors.Invalid("kind", "must be cover or file")
	}

	up.Key = NewKey(kind, ext, u.now())
	body := io.MultiReader(bytes.NewReader(head), r)
	if u.maxBytes > 0 && size < 0 {
		body = &capReader{r: body, remaining: u.maxBytes}
	}
	if err := u.store.Put(ctx, up.Key, body, size, up.ContentType); err != nil {
		return nil, err
	}
	return up, nil
}

// fileFormat picks the format from the filename extension and rejects content
// that plainly contradicts it.
func fileFormat(filename, contentType string) (entities.FileFormat, error) {
	format := entities.FileFormat(strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."))
	if !format.Valid() {
		return "", apperrors.Invalid("file", "must be a pdf, doc or txt file")
	}
	ok := false
	switch format {
	case entities.FileFormatPDF:
		ok = contentType == "application/pdf"
	case entities.FileFormatTXT:
		ok = contentType == "text/plain"
	case entities.FileFormatDOC:
		ok = contentType == "application/octet-stream" || contentType == "application/msword" || contentType == "application/zip"
	}
	if !ok {
		return "", apperrors.Invalid("file", fmt.Sprintf("content %s does not match .%s", contentType, format))
	}
	return format, nil
}

// NewKey returns a unique key such as "covers/2026/10/<uuid>.png".
func NewKey(kind Kind, ext string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s%s", kind, at.UTC().Format("2006/01"), uuid.NewString(), ext)
}

// capReader fails once more than remaining bytes have been read.
type capReader struct {
	r         io.Reader
	remaining int64
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, apperrors.Invalid("file", "exceeds the upload size limit")
	}
	return n, err
}
