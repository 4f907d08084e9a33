package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/internal/telemetry"
	"github.com/marmos91/zerocopy/pkg/memory"
	"github.com/marmos91/zerocopy/pkg/recorder"
	"github.com/marmos91/zerocopy/pkg/zerocopy/memcon"
	"github.com/marmos91/zerocopy/pkg/zerocopy/producer"
	"github.com/marmos91/zerocopy/pkg/zerocopy/sidechannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	server *producer.Server
	client *memcon.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	provider := memory.NewHeapProvider()
	server, err := producer.New(producer.Config{
		Instance: "consumer",
		Slots:    memory.SlotMemoryConfig{NumberSlots: 4, SlotContentSize: 32, SlotContentAlignment: 32},
		Provider: provider,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Shutdown() })

	serverEnd, clientEnd := sidechannel.NewPipe(0)
	client, err := memcon.NewClient(memcon.Config{Channel: clientEnd, Provider: provider, Instance: "consumer"})
	require.NoError(t, err)

	_, err = server.Accept(serverEnd)
	require.NoError(t, err)
	return &fixture{server: server, client: client}
}

// collector is a Handler that keeps copies of every payload.
type collector struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collector) handle(_ context.Context, content []byte) error {
	end := 0
	for end < len(content) && content[end] != 0 {
		end++
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, string(content[:end]))
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...)
}

func start(t *testing.T, c *Consumer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func sendWhenConnected(t *testing.T, f *fixture, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		require.Eventually(t, func() bool {
			sent, err := f.server.SendSlot([]byte(p))
			require.NoError(t, err)
			return sent
		}, waitFor, tick)
	}
}

func TestNew_RequiresPollInterval(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.client, Options{})
	assert.Error(t, err)

	_, err = New(f.client, Options{Listen: true})
	assert.NoError(t, err)
}

func TestRun(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts Options
	}{
		{name: "listening", opts: Options{Listen: true}},
		{name: "polling", opts: Options{PollInterval: time.Millisecond}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			col := &collector{}
			tc.opts.Handler = col.handle

			c, err := New(f.client, tc.opts)
			require.NoError(t, err)
			cancel, done := start(t, c)

			sendWhenConnected(t, f, "a", "b", "c")
			require.Eventually(t, func() bool { return col.count() == 3 }, waitFor, tick)
			assert.Equal(t, []string{"a", "b", "c"}, col.all())
			assert.Equal(t, uint64(3), c.Received())

			// Every slot was released.
			require.Eventually(t, func() bool {
				f.server.ReclaimSlots()
				return f.server.FreeSlots() == 4
			}, waitFor, tick)

			cancel()
			require.NoError(t, <-done)
			assert.Equal(t, memcon.StateDisconnected, f.client.GetState())
		})
	}
}

func TestRun_ServerShutdownDrains(t *testing.T) {
	f := newFixture(t)
	col := &collector{}

	// Polling slowly so the shutdown is observed with slots still queued.
	c, err := New(f.client, Options{PollInterval: time.Hour, Handler: col.handle})
	require.NoError(t, err)
	_, done := start(t, c)

	require.Eventually(t, func() bool { return len(f.server.Clients()) == 1 && f.server.Clients()[0].Phase == "connected" }, waitFor, tick)
	sendWhenConnected(t, f, "x", "y")
	require.NoError(t, f.server.Shutdown())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("consumer did not stop after server shutdown")
	}
	assert.Equal(t, []string{"x", "y"}, col.all())
}

func TestRun_ServerCrash(t *testing.T) {
	provider := memory.NewHeapProvider()
	server, err := producer.New(producer.Config{
		Instance: "consumer",
		Slots:    memory.SlotMemoryConfig{NumberSlots: 2, SlotContentSize: 32, SlotContentAlignment: 32},
		Provider: provider,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Shutdown() })

	serverEnd, clientEnd := sidechannel.NewPipe(0)
	client, err := memcon.NewClient(memcon.Config{Channel: clientEnd, Provider: provider, Instance: "consumer"})
	require.NoError(t, err)
	_, err = server.Accept(serverEnd)
	require.NoError(t, err)

	c, err := New(client, Options{Listen: true})
	require.NoError(t, err)
	_, done := start(t, c)

	require.Eventually(t, func() bool { return client.GetState() == memcon.StateConnected }, waitFor, tick)
	// Closing the server end without a shutdown notice looks like a crash.
	require.NoError(t, serverEnd.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCorrupted)
	case <-time.After(waitFor):
		t.Fatal("consumer did not stop after server crash")
	}
}

func TestRecordHandler(t *testing.T) {
	f := newFixture(t)
	sink := recorder.NewMemorySink()
	rec := recorder.New(sink, "consumer", nil)

	c, err := New(f.client, Options{Listen: true, Handler: RecordHandler(rec)})
	require.NoError(t, err)
	cancel, done := start(t, c)

	sendWhenConnected(t, f, "frame")
	require.Eventually(t, func() bool { return rec.Recorded() == 1 }, waitFor, tick)

	cancel()
	require.NoError(t, <-done)

	keys, err := sink.List(context.Background(), rec.Prefix())
	require.NoError(t, err)
	require.Len(t, keys, 1)

	data, err := sink.Read(context.Background(), keys[0])
	require.NoError(t, err)
	assert.Len(t, data, 32)
	assert.Equal(t, "frame", string(data[:5]))
}

func TestRun_HandlerContext(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	telemetry.UseTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	t.Cleanup(func() { telemetry.UseTracerProvider(noop.NewTracerProvider()) })

	f := newFixture(t)
	seen := make(chan *logger.LogContext, 1)
	c, err := New(f.client, Options{Listen: true, Handler: func(ctx context.Context, _ []byte) error {
		seen <- logger.FromContext(ctx)
		return nil
	}})
	require.NoError(t, err)
	cancel, done := start(t, c)

	sendWhenConnected(t, f, "traced")
	var lc *logger.LogContext
	select {
	case lc = <-seen:
	case <-time.After(waitFor):
		t.Fatal("handler not called")
	}
	require.NotNil(t, lc)
	assert.Equal(t, "consumer", lc.Instance)
	assert.Equal(t, f.client.ID(), lc.ClientID)
	assert.Equal(t, "HandleSlot", lc.Operation)
	assert.NotEmpty(t, lc.TraceID)

	cancel()
	require.NoError(t, <-done)

	var names []string
	for _, s := range spans.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, telemetry.SpanConsumerSlot)
}
