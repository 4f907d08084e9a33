// Package recorder archives slot payloads received by a consumer.
//
// A Recorder assigns every payload a key of the form
// "{instance}/{session}/{sequence}" and writes it to a Sink. Sinks exist for
// a local directory, an embedded Badger database, S3-compatible object
// storage and memory. The file, Badger and memory sinks store keys as given;
// the S3 sink places objects under its configured key prefix, as
// "{key_prefix}/{instance}/{session}/{sequence}", and strips the prefix again
// when listing.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/internal/telemetry"
	"github.com/marmos91/zerocopy/pkg/metrics"
)

var (
	// ErrSinkClosed is returned when operations are attempted on a closed sink.
	ErrSinkClosed = errors.New("recorder: sink is closed")

	// ErrNotFound is returned when a key does not exist in a sink.
	ErrNotFound = errors.New("recorder: key not found")
)

// Sink stores recorded payloads under string keys.
type Sink interface {
	// Name identifies the sink type in logs and metrics.
	Name() string

	// Write stores data under key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns the data stored under key or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// List returns the keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// HealthCheck verifies the sink is accessible.
	HealthCheck(ctx context.Context) error

	// Close releases the sink.
	Close() error
}

// Recorder writes payloads to a Sink under sequential keys.
//
// Thread safety: Record is safe for concurrent use; sequence numbers are
// unique but concurrent writes may complete out of order.
type Recorder struct {
	sink     Sink
	instance string
	session  string
	metrics  metrics.RecorderMetrics
	seq      atomic.Uint64
}

// New creates a Recorder for instance. A nil m disables metrics.
func New(sink Sink, instance string, m metrics.RecorderMetrics) *Recorder {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Recorder{
		sink:     sink,
		instance: instance,
		session:  uuid.NewString(),
		metrics:  m,
	}
}

// Session returns the identifier shared by all keys of this Recorder.
func (r *Recorder) Session() string {
	return r.session
}

// Prefix returns "{instance}/{session}/", the key prefix shared by this
// Recorder's records.
func (r *Recorder) Prefix() string {
	return r.instance + "/" + r.session + "/"
}

// Key returns the key of the record with sequence number seq.
func (r *Recorder) Key(seq uint64) string {
	return fmt.Sprintf("%s%012d", r.Prefix(), seq)
}

// Record writes payload and returns its key.
func (r *Recorder) Record(ctx context.Context, payload []byte) (string, error) {
	key := r.Key(r.seq.Add(1))

	ctx, span := telemetry.StartRecorderSpan(ctx, r.instance, r.sink.Name(), len(payload))
	defer span.End()

	start := time.Now()
	err := r.sink.Write(ctx, key, payload)
	r.metrics.RecordWrite(r.sink.Name(), len(payload), time.Since(start).Seconds(), err)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.Warn("Record write failed", logger.Instance(r.instance), logger.Sink(r.sink.Name()), logger.Err(err))
		return "", fmt.Errorf("record %s: %w", key, err)
	}
	return key, nil
}

// Recorded returns the number of records attempted so far.
func (r *Recorder) Recorded() uint64 {
	return r.seq.Load()
}

// Close closes the sink.
func (r *Recorder) Close() error {
	return r.sink.Close()
}

// joinKey prepends a prefix to key, inserting a separator when needed.
func joinKey(prefix, key string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix + key
	}
	return prefix + "/" + key
}
