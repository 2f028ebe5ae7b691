/*
Copyright (C) 2026  raftlog contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Config describes how to reach an S3 or S3-compatible (MinIO, etc.)
// bucket. Generalizes the teacher's storage/persistence-s3.go S3Factory.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string // custom endpoint for S3-compatible storage
	Bucket          string
	Prefix          string
	ForcePathStyle  bool // required for MinIO
}

// S3Backend stores the snapshot as a single object at <prefix>/state.raftsnap.
type S3Backend struct {
	cfg S3Config

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

// NewS3Backend returns an S3Backend; the client connects lazily on first use.
func NewS3Backend(cfg S3Config) *S3Backend {
	return &S3Backend{cfg: cfg}
}

func (b *S3Backend) ensureOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened {
		return nil
	}

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if b.cfg.Region != "" {
		opts = append(opts, config.WithRegion(b.cfg.Region))
	}
	if b.cfg.AccessKeyID != "" && b.cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.cfg.AccessKeyID, b.cfg.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("snapshot: s3: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if b.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(b.cfg.Endpoint)
		})
	}
	if b.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	b.client = s3.NewFromConfig(cfg, s3Opts...)
	b.opened = true
	return nil
}

func (b *S3Backend) key() string {
	if b.cfg.Prefix == "" {
		return fileName
	}
	return b.cfg.Prefix + "/" + fileName
}

func (b *S3Backend) Save(data []byte) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	_, err := b.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key()),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("snapshot: s3 put: %w", err)
	}
	return nil
}

func (b *S3Backend) Load() ([]byte, bool, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, false, err
	}
	resp, err := b.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key()),
	})
	if err != nil {
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("snapshot: s3 get: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: s3 read body: %w", err)
	}
	return data, true, nil
}
