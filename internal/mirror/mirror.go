// Package mirror keeps local thumbnails of cover images. Images are queued
// while a batch is processed and written out together when it is flushed.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

// DefaultMaxWidth is the thumbnail width used when none is configured.
const DefaultMaxWidth = 300

type upload struct {
	key string
	img image.Image
}

// Mirror writes JPEG thumbnails under a directory.
type Mirror struct {
	dir      string
	maxWidth int

	mu      sync.Mutex
	pending []upload
}

// New returns a mirror rooted at dir. Images wider than maxWidth are scaled
// down preserving aspect ratio.
func New(dir string, maxWidth int) *Mirror {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	return &Mirror{dir: dir, maxWidth: maxWidth}
}

// Path returns where the thumbnail for key is stored.
func (m *Mirror) Path(key string) string {
	return filepath.Join(m.dir, sanitizeKey(key)+".jpg")
}

func sanitizeKey(key string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_", " ", "_")
	return r.Replace(key)
}

// Exists reports whether a thumbnail for key has been written.
func (m *Mirror) Exists(key string) bool {
	info, err := os.Stat(m.Path(key))
	return err == nil && !info.IsDir()
}

// Queue decodes data and holds it until the next Flush. Undecodable data is
// rejected immediately.
func (m *Mirror) Queue(key string, data []byte) error {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image for %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, upload{key: key, img: img})
	return nil
}

// Pending returns the number of queued images.
func (m *Mirror) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Flush writes every queued image and empties the queue. It returns the
// written paths by key; images that failed to write are reported in the
// joined error and dropped.
func (m *Mirror) Flush(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if len(pending) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}

	written := make(map[string]string, len(pending))
	var errs []error
	for _, u := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		img := u.img
		if img.Bounds().Dx() > m.maxWidth {
			img = imaging.Resize(img, m.maxWidth, 0, imaging.Lanczos)
		}

		path := m.Path(u.key)
		if err := imaging.Save(img, path, imaging.JPEGQuality(85)); err != nil {
			errs = append(errs, fmt.Errorf("failed to save %s: %w", u.key, err))
			continue
		}
		written[u.key] = path
	}

	slog.Debug("Flushed cover mirror", "written", len(written), "failed", len(pending)-len(written))
	return written, errors.Join(errs...)
}
