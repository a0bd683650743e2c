package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// partSize is the multipart chunk size. 5 MiB is the S3 minimum.
const partSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter. Uploads go through the S3 transfer
// manager, which sends small bodies in one PutObject and splits large
// monthly archives into concurrent parts.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		bucket: c.bucket,
	}
}

// Put uploads data to path.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}
