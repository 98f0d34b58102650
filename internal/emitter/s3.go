package emitter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

// ObjectPutter is the S3 operation needed to upload a report.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Emitter uploads the encoded report to an S3 object.
type S3Emitter struct {
	client ObjectPutter
	bucket string
	key    string
	format Format
}

// ParseS3URI splits s3://bucket/key. A missing key or one ending in "/"
// gets the default report file name appended.
func ParseS3URI(uri string, format Format) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 uri: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: want s3://bucket/key", uri)
	}

	key = strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		key += format.DefaultPath()
	}
	return u.Host, key, nil
}

// NewS3Emitter creates an emitter uploading to uri with client.
func NewS3Emitter(client ObjectPutter, uri string, format Format) (*S3Emitter, error) {
	bucket, key, err := ParseS3URI(uri, format)
	if err != nil {
		return nil, err
	}
	return &S3Emitter{client: client, bucket: bucket, key: key, format: format}, nil
}

// Emit encodes the report and puts it to the bucket.
func (e *S3Emitter) Emit(ctx context.Context, report *resource.Report) error {
	var buf bytes.Buffer
	if err := Encode(&buf, e.format, report); err != nil {
		return err
	}

	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(e.key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(e.format.ContentType()),
	})
	if err != nil {
		return fmt.Errorf("upload report to s3://%s/%s: %w", e.bucket, e.key, err)
	}

	log.Info().
		Str("bucket", e.bucket).
		Str("key", e.key).
		Int("bytes", buf.Len()).
		Msg("report uploaded")
	return nil
}

// Close is a no-op for the S3 emitter.
func (e *S3Emitter) Close() error {
	return nil
}
