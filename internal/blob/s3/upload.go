package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	ndjsonContentType = "application/x-ndjson"

	// Bodies of at least multipartThreshold bytes go through the upload
	// manager in partSize chunks.
	multipartThreshold = 64 << 20
	partSize           = 16 << 20
)

// Upload stores body under key with a SHA-256 checksum the bucket
// verifies on receipt.
func (c *Client) Upload(ctx context.Context, key string, body []byte) error {
	input := &s3.PutObjectInput{
		Bucket:            aws.String(c.bucket),
		Key:               aws.String(key),
		Body:              bytes.NewReader(body),
		ContentType:       aws.String(ndjsonContentType),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}

	if len(body) < multipartThreshold {
		if _, err := c.s3.PutObject(ctx, input); err != nil {
			return fmt.Errorf("s3blob: upload %s: %w", key, err)
		}
		return nil
	}

	uploader := manager.NewUploader(c.s3, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.LeavePartsOnError = false
	})
	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s (%d bytes): %w", key, len(body), err)
	}
	return nil
}
