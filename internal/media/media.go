// Package media stores uploaded images on local disk under MEDIA_ROOT.
package media

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/sujalbistaa/murmur/internal/apperr"
)

const DefaultMaxBytes = 5 << 20

var allowed = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

type Store struct {
	root     string
	maxBytes int64
}

func NewStore(root string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Store{root: root, maxBytes: maxBytes}, nil
}

func (s *Store) Root() string { return s.root }

// SaveProfilePhoto stores a profile picture as user-<id>/profile_photo/<first>-<last>-<uuid><ext>.
func (s *Store) SaveProfilePhoto(userID uint, firstName, lastName string, fh *multipart.FileHeader) (string, error) {
	stem := strings.Trim(slug.Make(firstName)+"-"+slug.Make(lastName), "-")
	if stem == "" {
		stem = uuid.NewString()
	} else {
		stem += "-" + uuid.NewString()
	}
	return s.save(fh, path.Join(fmt.Sprintf("user-%d", userID), "profile_photo"), stem)
}

// SavePostImage stores a post image as user-<id>/posts/<uuid><ext>.
func (s *Store) SavePostImage(userID uint, fh *multipart.FileHeader) (string, error) {
	return s.save(fh, path.Join(fmt.Sprintf("user-%d", userID), "posts"), uuid.NewString())
}

func (s *Store) save(fh *multipart.FileHeader, dir, stem string) (string, error) {
	if fh.Size > s.maxBytes {
		return "", apperr.Validation("image is larger than %d bytes", s.maxBytes)
	}
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		return "", fmt.Errorf("detect image type: %w", err)
	}
	if !allowed[mtype.String()] {
		return "", apperr.Validation("unsupported image type %s", mtype.String())
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}

	rel := path.Join(dir, stem+mtype.Extension())
	dst := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	// One extra byte detects a body larger than the declared size.
	n, err := io.Copy(out, io.LimitReader(src, s.maxBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxBytes {
		err = apperr.Validation("image is larger than %d bytes", s.maxBytes)
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", err
	}

	slog.Debug("Stored media", "path", rel, "bytes", n, "type", mtype.String())
	return rel, nil
}

// Delete removes a stored file; unknown or shared defaults are ignored.
func (s *Store) Delete(rel string) {
	if rel == "" || !strings.HasPrefix(rel, "user-") {
		return
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(path.Clean(rel)))); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to delete media", "path", rel, "error", err)
	}
}
