package recorder

import (
	"context"
	"fmt"
)

// Sink types.
const (
	SinkMemory = "memory"
	SinkFile   = "file"
	SinkBadger = "badger"
	SinkS3     = "s3"
)

// SinkConfig selects and configures a Sink.
type SinkConfig struct {
	// Type is one of "memory", "file", "badger" or "s3".
	Type string

	// Path is the directory of the file and badger sinks.
	Path string

	// S3 configures the s3 sink.
	S3 S3Config
}

// Open creates the Sink described by cfg.
func Open(ctx context.Context, cfg SinkConfig) (Sink, error) {
	switch cfg.Type {
	case SinkMemory:
		return NewMemorySink(), nil
	case SinkFile:
		return NewFileSink(cfg.Path)
	case SinkBadger:
		return NewBadgerSink(cfg.Path)
	case SinkS3:
		return NewS3SinkFromConfig(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("recorder: unknown sink type %q", cfg.Type)
	}
}
