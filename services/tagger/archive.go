package tagger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Uploader stores one object. *s3.Client implements it.
type Uploader interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256 string) error
}

// Archiver uploads processed tag files, zstd-compressed, under
// <prefix><stamp>/<name>.zst.
type Archiver struct {
	uploader Uploader
	bucket   string
	prefix   string
}

// NewArchiver creates an Archiver writing to bucket.
func NewArchiver(uploader Uploader, bucket, prefix string) (*Archiver, error) {
	if uploader == nil {
		return nil, errors.New("uploader is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	return &Archiver{uploader: uploader, bucket: bucket, prefix: prefix}, nil
}

// Key returns the object key for file within the run identified by stamp.
func (a *Archiver) Key(stamp, file string) string {
	return a.prefix + path.Join(stamp, filepath.Base(file)+".zst")
}

// Archive compresses and uploads each file, returning the keys written.
func (a *Archiver) Archive(ctx context.Context, stamp string, files ...string) ([]string, error) {
	if a == nil {
		return nil, errors.New("nil archiver")
	}
	keys := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" {
			continue
		}
		key := a.Key(stamp, f)
		if err := a.upload(ctx, key, f); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (a *Archiver) upload(ctx context.Context, key, file string) error {
	src, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %q: %w", file, err)
	}
	defer src.Close()

	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := io.Copy(encoder, src); err != nil {
		encoder.Close()
		return fmt.Errorf("compress %q: %w", file, err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("compress %q: %w", file, err)
	}

	sum := sha256.Sum256(buf.Bytes())
	size := int64(buf.Len())
	if err := a.uploader.PutObject(ctx, a.bucket, key, &buf, size, hex.EncodeToString(sum[:])); err != nil {
		return fmt.Errorf("upload %q: %w", key, err)
	}
	return nil
}
