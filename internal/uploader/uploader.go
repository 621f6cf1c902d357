// Package uploader persists the muxed recording stream to S3 as it is
// produced. Container bytes accumulate in an append buffer; whole chunks are
// cut off the front and handed to a background worker, decoupling network
// latency from the mux consumer.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"

	"confbot/internal/metrics"
)

// DefaultChunkSize is the multipart part size: 5 MiB, the S3 minimum.
const DefaultChunkSize = 5 * 1024 * 1024

const queueCapacity = 64

// S3API is the slice of the S3 client the uploader uses. *s3.S3 satisfies
// it; tests inject a fake.
type S3API interface {
	CreateMultipartUpload(*s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(*s3.UploadPartInput) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(*s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error)
	PutObject(*s3.PutObjectInput) (*s3.PutObjectOutput, error)
}

// part is one queued chunk with its 1-based part number.
type part struct {
	data []byte
	num  int64
}

// Uploader streams an object to S3 in ordered parts. Append is called from
// the pipeline's emitter goroutine; the worker goroutine performs the
// blocking uploads. Complete joins the two.
type Uploader struct {
	log     *slog.Logger
	client  S3API
	bucket  string
	key     string
	chunk   int
	metrics *metrics.Metrics

	buf      bytes.Buffer
	uploadID string
	nextPart int64
	enqueued int64

	queue chan part
	done  chan struct{}

	partsMu sync.Mutex
	parts   []*s3.CompletedPart
}

// New creates an Uploader for the given bucket and key and starts its
// background worker. chunkSize of 0 takes DefaultChunkSize; log and m may be
// nil.
func New(client S3API, bucket, key string, chunkSize int, log *slog.Logger, m *metrics.Metrics) *Uploader {
	if log == nil {
		log = slog.Default()
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	u := &Uploader{
		log:      log.With("component", "uploader", "key", key),
		client:   client,
		bucket:   bucket,
		key:      key,
		chunk:    chunkSize,
		metrics:  m,
		nextPart: 1,
		queue:    make(chan part, queueCapacity),
		done:     make(chan struct{}),
	}
	go u.worker()
	return u
}

// Key returns the destination object key.
func (u *Uploader) Key() string {
	return u.key
}

// Append adds bytes to the buffer and enqueues every complete chunk with a
// strictly increasing part number, preserving the remainder.
func (u *Uploader) Append(data []byte) {
	u.buf.Write(data)

	for u.buf.Len() >= u.chunk {
		chunk := make([]byte, u.chunk)
		if _, err := u.buf.Read(chunk); err != nil {
			// bytes.Buffer.Read cannot fail with enough buffered data.
			u.log.Error("buffer read failed", "error", err)
			return
		}
		u.enqueuePart(chunk)
	}
}

func (u *Uploader) enqueuePart(data []byte) {
	if u.uploadID == "" {
		out, err := u.client.CreateMultipartUpload(&s3.CreateMultipartUploadInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(u.key),
		})
		if err != nil {
			// The chunk is lost, but it still consumes a part number so
			// finalize reports the hole instead of succeeding with a
			// truncated object.
			u.log.Error("create multipart upload failed, chunk lost",
				"part", u.nextPart, "error", err)
			u.metrics.IncUploadError()
			u.nextPart++
			u.enqueued++
			return
		}
		u.uploadID = aws.StringValue(out.UploadId)
		u.log.Info("multipart upload started", "upload_id", u.uploadID)
	}

	u.queue <- part{data: data, num: u.nextPart}
	u.nextPart++
	u.enqueued++
}

// worker uploads queued parts. A failed part is logged and skipped, leaving
// a hole that finalize reports; it is never retried inline.
func (u *Uploader) worker() {
	defer close(u.done)

	for p := range u.queue {
		out, err := u.client.UploadPart(&s3.UploadPartInput{
			Bucket:     aws.String(u.bucket),
			Key:        aws.String(u.key),
			UploadId:   aws.String(u.uploadID),
			PartNumber: aws.Int64(p.num),
			Body:       bytes.NewReader(p.data),
		})
		if err != nil {
			u.log.Error("part upload failed", "part", p.num, "error", err)
			u.metrics.IncUploadError()
			continue
		}

		u.partsMu.Lock()
		u.parts = append(u.parts, &s3.CompletedPart{
			ETag:       out.ETag,
			PartNumber: aws.Int64(p.num),
		})
		u.partsMu.Unlock()
		u.metrics.IncUploadPart()
	}
}

// Complete finalizes the object. When no chunk was ever cut, the whole
// buffer goes up as a single put. Otherwise the final remainder is enqueued,
// the queue drains, the worker stops, and the multipart upload completes
// with all acknowledged parts sorted by part number — the transport may
// acknowledge them out of submission order.
func (u *Uploader) Complete(ctx context.Context) error {
	if u.uploadID == "" && u.enqueued == 0 {
		_, err := u.client.PutObject(&s3.PutObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(u.key),
			Body:   bytes.NewReader(u.buf.Bytes()),
		})
		if err != nil {
			return fmt.Errorf("uploader: single put: %w", err)
		}
		u.log.Info("object uploaded with single put", "bytes", u.buf.Len())
		return nil
	}

	if u.buf.Len() > 0 {
		remainder := make([]byte, u.buf.Len())
		copy(remainder, u.buf.Bytes())
		u.buf.Reset()
		u.enqueuePart(remainder)
	}

	close(u.queue)
	select {
	case <-u.done:
	case <-ctx.Done():
		return fmt.Errorf("uploader: waiting for worker: %w", ctx.Err())
	}

	u.partsMu.Lock()
	parts := u.parts
	u.partsMu.Unlock()

	if int64(len(parts)) != u.enqueued {
		return fmt.Errorf("uploader: %d of %d parts missing, object incomplete",
			u.enqueued-int64(len(parts)), u.enqueued)
	}

	sort.Slice(parts, func(i, j int) bool {
		return aws.Int64Value(parts[i].PartNumber) < aws.Int64Value(parts[j].PartNumber)
	})

	_, err := u.client.CompleteMultipartUpload(&s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(u.uploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("uploader: complete multipart: %w", err)
	}
	u.log.Info("multipart upload completed", "parts", len(parts))
	return nil
}
