package media

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/prn-tf/kvs-ingest/internal/domain"
)

// Source is an opened media file.
type Source struct {
	file *os.File
	gz   *gzip.Reader

	// Path is the file the source was opened from.
	Path string

	// Size is the on-disk size; for gzip sources it is the compressed size.
	Size int64

	// Compressed reports whether the file is gunzipped on read.
	Compressed bool
}

// OpenFile opens a media file. Files ending in .gz are decompressed
// transparently.
func OpenFile(path string) (*Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, domain.Errorf("OpenMedia", domain.ErrConfiguration, "media path is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewOpError("OpenMedia", domain.ErrConfiguration, "", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, domain.NewOpError("OpenMedia", domain.ErrConfiguration, "", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, domain.Errorf("OpenMedia", domain.ErrConfiguration, "%s is a directory", path)
	}

	src := &Source{file: f, Path: path, Size: info.Size()}

	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, domain.NewOpError("OpenMedia", domain.ErrConfiguration, "", fmt.Errorf("gzip header: %w", err))
		}
		src.gz = gz
		src.Compressed = true
	}

	return src, nil
}

// Read implements io.Reader.
func (s *Source) Read(p []byte) (int, error) {
	if s.gz != nil {
		return s.gz.Read(p)
	}
	return s.file.Read(p)
}

// Close closes the decompressor and the file.
func (s *Source) Close() error {
	var gzErr error
	if s.gz != nil {
		gzErr = s.gz.Close()
	}
	return errors.Join(gzErr, s.file.Close())
}
