// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package watermark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	readCount   metric.Int64Counter
	readErrors  metric.Int64Counter
	writeCount  metric.Int64Counter
	writeErrors metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/logship/internal/watermark")

	var err error
	readCount, err = meter.Int64Counter(
		"logship.watermark.read.count",
		metric.WithDescription("Number of watermark document reads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create watermark.read.count counter: %w", err))
	}

	readErrors, err = meter.Int64Counter(
		"logship.watermark.read.errors",
		metric.WithDescription("Number of watermark document read errors"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create watermark.read.errors counter: %w", err))
	}

	writeCount, err = meter.Int64Counter(
		"logship.watermark.write.count",
		metric.WithDescription("Number of watermark document writes"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create watermark.write.count counter: %w", err))
	}

	writeErrors, err = meter.Int64Counter(
		"logship.watermark.write.errors",
		metric.WithDescription("Number of watermark document write errors"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create watermark.write.errors counter: %w", err))
	}
}

// s3API is the slice of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Store struct {
	client s3API
	bucket string
	prefix string
}

var _ Store = (*s3Store)(nil)

// NewS3Store returns a Store that keeps watermark documents in the given
// bucket under prefix.
func NewS3Store(client s3API, bucket, prefix string) Store {
	return &s3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func s3ErrorIsNoSuchKey(err error) bool {
	var noKeyErr *types.NoSuchKey
	return errors.As(err, &noKeyErr)
}

func (s *s3Store) Get(ctx context.Context, logGroupName string) (Record, bool, error) {
	key := Key(s.prefix, logGroupName)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if s3ErrorIsNoSuchKey(err) {
			return Record{}, false, nil
		}
		readErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("reason", "get"),
		))
		return Record{}, false, fmt.Errorf("get watermark %s/%s: %w", s.bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		readErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("reason", "read"),
		))
		return Record{}, false, fmt.Errorf("read watermark %s/%s: %w", s.bucket, key, err)
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		readErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("reason", "decode"),
		))
		return Record{}, false, fmt.Errorf("decode watermark %s/%s: %w", s.bucket, key, err)
	}
	// A document that parses but carries no usable timestamp (eg {}) must not
	// anchor the export window at epoch 0; treat it like any other unreadable
	// record so callers fall back to the lookback default.
	if rec.LastExportTime <= 0 {
		readErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("reason", "decode"),
		))
		return Record{}, false, fmt.Errorf("decode watermark %s/%s: missing or invalid last_export_time", s.bucket, key)
	}

	readCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bucket", s.bucket),
	))
	return rec, true, nil
}

func (s *s3Store) Put(ctx context.Context, logGroupName string, rec Record) error {
	key := Key(s.prefix, logGroupName)

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode watermark %s/%s: %w", s.bucket, key, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		ACL:         types.ObjectCannedACLBucketOwnerFullControl,
	})
	if err != nil {
		writeErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bucket", s.bucket),
		))
		return fmt.Errorf("put watermark %s/%s: %w", s.bucket, key, err)
	}

	writeCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bucket", s.bucket),
	))
	return nil
}
