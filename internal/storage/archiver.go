package storage

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// RawArchiver adapts the S3 client to the evidence archiver contract.
type RawArchiver struct {
	client *s3.Client
}

func NewRawArchiver(client *s3.Client) *RawArchiver {
	return &RawArchiver{client: client}
}

func (a *RawArchiver) Archive(ctx context.Context, contentHash string, payload []byte) error {
	_, err := PutRaw(ctx, a.client, contentHash, payload)
	return err
}
