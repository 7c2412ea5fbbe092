package storage

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrInvalidImageType = errors.New("only png, jpg, jpeg and gif images are allowed")
	ErrImageTooLarge    = errors.New("image is too large")
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// ImageStore keeps product images as plain files under Dir. Stored names
// are sanitised and prefixed with the upload time.
type ImageStore struct {
	Dir      string
	MaxBytes int64
	now      func() time.Time
}

func NewImageStore(dir string, maxBytes int64) *ImageStore {
	return &ImageStore{Dir: dir, MaxBytes: maxBytes, now: time.Now}
}

func (s *ImageStore) Save(file *multipart.FileHeader) (string, error) {
	base := SanitizeFilename(file.Filename)
	ext := strings.ToLower(filepath.Ext(base))
	if !allowedExtensions[ext] {
		return "", ErrInvalidImageType
	}
	if s.MaxBytes > 0 && file.Size > s.MaxBytes {
		return "", ErrImageTooLarge
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	name := s.now().Format("20060102_150405_") + base
	dst, err := os.OpenFile(filepath.Join(s.Dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}

	limit := s.MaxBytes
	if limit <= 0 {
		limit = 1<<63 - 1
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > limit {
		err = ErrImageTooLarge
	}
	if err != nil {
		os.Remove(filepath.Join(s.Dir, name))
		if errors.Is(err, ErrImageTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("write image: %w", err)
	}
	return name, nil
}

// Remove deletes a stored image. Missing files are not an error.
func (s *ImageStore) Remove(name string) error {
	if name == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.Dir, filepath.Base(name)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

// SanitizeFilename reduces a client supplied name to ASCII letters, digits,
// dots, dashes and underscores. Path components are dropped.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	clean := strings.TrimLeft(b.String(), "._")
	if clean == "" {
		return "image"
	}
	return clean
}
