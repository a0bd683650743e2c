package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads archive objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves trades resolved before a cutoff to cold storage and returns
// how many it moved.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
}
