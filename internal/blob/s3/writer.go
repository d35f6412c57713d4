package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// multipartThreshold is the payload size above which Put switches to the
// multipart upload manager. It matches the S3 minimum part size (5 MiB).
const multipartThreshold = 5 * 1024 * 1024

// Writer implements domain.BlobWriter using an S3-compatible backend. Archive
// batches of resolved opportunity history are written through it.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a new Writer that uploads objects to the given client's
// configured bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Put uploads data to the given path. Payloads above the multipart threshold
// go through the upload manager, which splits them into parts and uploads the
// parts concurrently.
func (w *Writer) Put(ctx context.Context, path string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	if len(data) > multipartThreshold {
		uploader := manager.NewUploader(w.client)
		if _, err := uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
		}
		return nil
	}

	if _, err := w.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BlobWriter = (*Writer)(nil)
