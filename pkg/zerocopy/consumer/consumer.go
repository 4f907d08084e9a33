// Package consumer drives a memcon.Client: it receives every slot the
// producer sends, hands the content to a handler and releases the slot.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/internal/telemetry"
	"github.com/marmos91/zerocopy/pkg/recorder"
	"github.com/marmos91/zerocopy/pkg/zerocopy/logic"
	"github.com/marmos91/zerocopy/pkg/zerocopy/memcon"
)

// ErrCorrupted is returned by Run when the connection is corrupted.
var ErrCorrupted = errors.New("consumer: connection corrupted")

// Handler processes the content of one slot. The content is only valid
// during the call.
type Handler func(ctx context.Context, content []byte) error

// Options configures a Consumer.
type Options struct {
	// Listen selects notified reception. Otherwise the client is polled
	// every PollInterval.
	Listen bool

	// PollInterval is required when Listen is false.
	PollInterval time.Duration

	// Handler is optional.
	Handler Handler
}

// RecordHandler archives every slot with rec.
func RecordHandler(rec *recorder.Recorder) Handler {
	return func(ctx context.Context, content []byte) error {
		_, err := rec.Record(ctx, content)
		return err
	}
}

// Consumer receives slots from a connected Client.
type Consumer struct {
	client *memcon.Client
	opts   Options

	wake     chan struct{}
	received atomic.Uint64
}

// New creates a Consumer for a Client that was created but not connected.
func New(client *memcon.Client, opts Options) (*Consumer, error) {
	if !opts.Listen && opts.PollInterval <= 0 {
		return nil, fmt.Errorf("consumer: poll interval must be positive, got %s", opts.PollInterval)
	}
	return &Consumer{
		client: client,
		opts:   opts,
		wake:   make(chan struct{}, 1),
	}, nil
}

// Received returns the number of slots processed.
func (c *Consumer) Received() uint64 {
	return c.received.Load()
}

func (c *Consumer) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run connects the client and processes slots until ctx is cancelled or the
// server goes away. A clean server shutdown drains the remaining slots and
// returns nil; a corrupted connection returns ErrCorrupted. The client is
// disconnected when Run returns.
func (c *Consumer) Run(ctx context.Context) (err error) {
	ctx = logger.WithContext(ctx, logger.NewLogContext(c.client.Instance(), c.client.ID()))

	defer func() {
		if derr := c.client.Disconnect(); derr != nil && err == nil {
			err = derr
		}
	}()

	if err := c.client.Connect(func(memcon.ClientState, error) { c.signal() }); err != nil {
		return err
	}

	var poll <-chan time.Time
	if !c.opts.Listen {
		ticker := time.NewTicker(c.opts.PollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	listening := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
		case <-poll:
		}

		switch state := c.client.GetState(); state {
		case memcon.StateConnecting:
			continue

		case memcon.StateConnected:
			if c.opts.Listen && !listening {
				if err := c.client.StartListening(c.signal); err != nil {
					return err
				}
				listening = true
				logger.InfoCtx(ctx, "Listening for slot notifications")
			}
			if err := c.drain(ctx); err != nil {
				return err
			}

		case memcon.StateDisconnectedRemote:
			logger.InfoCtx(ctx, "Producer shut down, draining remaining slots")
			return c.drain(ctx)

		case memcon.StateCorrupted:
			return ErrCorrupted

		default:
			return fmt.Errorf("consumer: client is %s", state)
		}
	}
}

// drain processes every slot currently available.
func (c *Consumer) drain(ctx context.Context) error {
	for {
		token, err := c.client.ReceiveSlot()
		if err != nil {
			return err
		}
		if token == nil {
			return nil
		}
		if err := c.handle(ctx, token); err != nil {
			return err
		}
	}
}

// handle passes one slot to the handler and releases it. Handler errors are
// logged; only client errors stop the consumer.
func (c *Consumer) handle(ctx context.Context, token *logic.SlotToken) error {
	ctx, span := telemetry.StartClientSpan(ctx, telemetry.SpanConsumerSlot, c.client.Instance(), c.client.ID(),
		telemetry.SlotIndex(token.Index()))
	defer span.End()
	lc := logger.FromContext(ctx).WithOperation("HandleSlot").WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	content, err := c.client.AccessSlotContent(token)
	if err == nil && c.opts.Handler != nil {
		telemetry.SetAttributes(ctx, telemetry.Bytes(len(content)))
		if herr := c.opts.Handler(ctx, content); herr != nil {
			telemetry.RecordError(ctx, herr)
			logger.WarnCtx(ctx, "Slot handler failed", logger.SlotIndex(token.Index()), logger.Err(herr))
		}
	}
	rerr := c.client.ReleaseSlot(token)
	if rerr == nil {
		telemetry.AddEvent(ctx, "slot.released")
	}
	if err == nil {
		err = rerr
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	n := c.received.Add(1)
	logger.DebugCtx(ctx, "Slot processed", logger.SlotIndex(token.Index()), "received", n)
	return nil
}
