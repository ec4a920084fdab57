// Package localfs keeps uploaded media on disk under an upload directory and
// renders previews with nfnt/resize.
package localfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"snapgram/internal/backend"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
)

const previewDir = "previews"

// Files stores blobs as UPLOAD_DIR/<bucket>/<fileID>. URLs are built under
// BASE_URL/uploads, matching a static file server rooted at UPLOAD_DIR.
type Files struct {
	dir     string
	baseURL string
	mu      sync.Mutex
}

var _ backend.Files = (*Files)(nil)

func New(dir, baseURL string) *Files {
	return &Files{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

func validName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func (f *Files) path(bucketID, fileID string) (string, error) {
	if !validName(bucketID) || !validName(fileID) {
		return "", fmt.Errorf("file %q/%q: %w", bucketID, fileID, backend.ErrNotFound)
	}
	return filepath.Join(f.dir, bucketID, fileID), nil
}

func (f *Files) url(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return f.baseURL + "/uploads/" + strings.Join(escaped, "/")
}

func (f *Files) CreateFile(ctx context.Context, bucketID, fileID string, file backend.Upload) (*backend.File, error) {
	if fileID == "" {
		fileID = backend.UniqueID()
	}
	dest, err := f.path(bucketID, fileID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("file %s: %w", fileID, backend.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	var n int64
	if file.Reader != nil {
		n, err = io.Copy(out, file.Reader)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return nil, fmt.Errorf("write file: %w", err)
	}

	log.Debug().Str("bucket", bucketID).Str("file", fileID).Int64("bytes", n).Msg("stored upload")
	return &backend.File{
		ID:        fileID,
		BucketID:  bucketID,
		Name:      file.Name,
		MimeType:  file.ContentType,
		SizeBytes: n,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// FilePreview renders a JPEG thumbnail bounded by opts.Width x opts.Height
// the first time it is asked for and returns its URL. Blobs that are not
// decodable images are served as-is. Gravity is ignored since thumbnails
// keep the aspect ratio.
func (f *Files) FilePreview(bucketID, fileID string, opts backend.PreviewOptions) (string, error) {
	src, err := f.path(bucketID, fileID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("file %s: %w", fileID, backend.ErrNotFound)
		}
		return "", err
	}

	name := fmt.Sprintf("%s_%dx%d_q%d.jpg", fileID, opts.Width, opts.Height, opts.Quality)
	dest := filepath.Join(f.dir, previewDir, bucketID, name)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(dest); err == nil {
		return f.url(previewDir, bucketID, name), nil
	}

	data, err := f.thumbnail(src, opts)
	if err != nil {
		log.Debug().Err(err).Str("file", fileID).Msg("no preview, serving original")
		return f.url(bucketID, fileID), nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("create preview dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", fmt.Errorf("write preview: %w", err)
	}
	return f.url(previewDir, bucketID, name), nil
}

func (f *Files) thumbnail(src string, opts backend.PreviewOptions) ([]byte, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	img, _, err := image.Decode(in)
	if err != nil {
		return nil, err
	}
	w, h := uint(opts.Width), uint(opts.Height)
	b := img.Bounds()
	if w == 0 {
		w = uint(b.Dx())
	}
	if h == 0 {
		h = uint(b.Dy())
	}
	thumb := resize.Thumbnail(w, h, img, resize.Lanczos3)

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeleteFile removes the blob and any previews rendered from it.
func (f *Files) DeleteFile(ctx context.Context, bucketID, fileID string) error {
	p, err := f.path(bucketID, fileID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file %s: %w", fileID, backend.ErrNotFound)
		}
		return fmt.Errorf("delete file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	previews, _ := filepath.Glob(filepath.Join(f.dir, previewDir, bucketID, fileID+"_*.jpg"))
	for _, pv := range previews {
		_ = os.Remove(pv)
	}
	return nil
}
