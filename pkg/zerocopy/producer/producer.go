// Package producer implements the server side of a zero-copy instance: it
// owns the slot memory, performs the connection handshake with every client
// and publishes slots to all of them at once.
//
// Visibility is all-or-nothing: SendSlot publishes a slot only when every
// connected client has room in its server queue, otherwise no client sees it.
// Each published slot carries a reference count of the clients it was sent
// to; ReclaimSlots drains the client queues and returns a slot to the free
// pool once every client released it.
package producer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/internal/telemetry"
	"github.com/marmos91/zerocopy/pkg/memory"
	"github.com/marmos91/zerocopy/pkg/metrics"
	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
	"github.com/marmos91/zerocopy/pkg/zerocopy/logic"
	"github.com/marmos91/zerocopy/pkg/zerocopy/sidechannel"
	"github.com/marmos91/zerocopy/pkg/zerocopy/slotqueue"
)

// Drop reasons reported to metrics.
const (
	DropNoFreeSlot = "no_free_slot"
	DropNoRoom     = "no_room"
	DropNoClient   = "no_client"
)

// Disconnect reasons reported to metrics.
const (
	ReasonShutdown   = "shutdown"
	ReasonTerminated = "terminated"
	ReasonProtocol   = "protocol_error"
)

var (
	// ErrClosed is returned by operations on a shut down Server.
	ErrClosed = errors.New("producer: closed")

	// ErrPayloadTooLarge is returned when a payload exceeds the slot size.
	ErrPayloadTooLarge = errors.New("producer: payload exceeds slot content size")
)

// Config configures a Server.
type Config struct {
	// Instance names the zero-copy instance.
	Instance string

	// Slots is the slot memory layout. Required.
	Slots memory.SlotMemoryConfig

	// Provider allocates slot and queue memory. Required.
	Provider memory.Provider

	// Integrity is the integrity level of allocated memory.
	Integrity memory.IntegrityLevel

	// Metrics is optional.
	Metrics metrics.ProducerMetrics
}

// Server is the producer of one zero-copy instance.
//
// Thread safety: all methods are safe for concurrent use.
type Server struct {
	mu sync.Mutex

	instance  string
	slots     memory.SlotMemoryConfig
	provider  memory.Provider
	integrity memory.IntegrityLevel
	metrics   metrics.ProducerMetrics

	slotMem memory.ReadWritableResource

	// free holds indices of unused slots; refs counts the clients still
	// holding each published slot.
	free []uint32
	refs []int

	clients map[uint64]*conn
	nextID  uint64
	closed  bool
}

// New allocates the slot memory and creates a Server.
func New(cfg Config) (*Server, error) {
	if err := cfg.Slots.Validate(); err != nil {
		return nil, err
	}
	if cfg.Slots.NumberSlots > logic.MaxSlots {
		return nil, fmt.Errorf("producer: %d slots exceeds maximum %d", cfg.Slots.NumberSlots, logic.MaxSlots)
	}
	if cfg.Provider == nil {
		return nil, errors.New("producer: memory provider is required")
	}

	slotMem, err := cfg.Provider.Allocate(memory.AllocateOptions{
		Size:         cfg.Slots.RequiredSize(),
		Name:         "zerocopy-slots-" + cfg.Instance,
		Integrity:    cfg.Integrity,
		Initializing: memory.InitZeroed,
	})
	if err != nil {
		return nil, fmt.Errorf("allocate slot memory: %w", err)
	}

	s := &Server{
		instance:  cfg.Instance,
		slots:     cfg.Slots,
		provider:  cfg.Provider,
		integrity: cfg.Integrity,
		metrics:   cfg.Metrics,
		slotMem:   slotMem,
		free:      make([]uint32, 0, cfg.Slots.NumberSlots),
		refs:      make([]int, cfg.Slots.NumberSlots),
		clients:   make(map[uint64]*conn),
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}

	// Lowest index is handed out first.
	for i := int(cfg.Slots.NumberSlots) - 1; i >= 0; i-- {
		s.free = append(s.free, uint32(i))
	}

	logger.Info("Producer created",
		logger.Instance(s.instance),
		logger.SlotCount(cfg.Slots.NumberSlots),
		logger.SlotSize(cfg.Slots.SlotContentSize))
	return s, nil
}

// Slots returns the slot memory layout.
func (s *Server) Slots() memory.SlotMemoryConfig {
	return s.slots
}

// Accept starts the handshake with a client on ch. The Server takes
// ownership of ch.
func (s *Server) Accept(ch sidechannel.Channel) (uint64, error) {
	_, span := telemetry.StartProducerSpan(context.Background(), telemetry.SpanProducerAccept, s.instance)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		_ = ch.Close()
		return 0, ErrClosed
	}

	queueMem, err := s.provider.Allocate(memory.AllocateOptions{
		Size:         slotqueue.RequiredSize(s.slots.NumberSlots),
		Name:         fmt.Sprintf("zerocopy-server-queue-%s-%d", s.instance, s.nextID+1),
		Integrity:    s.integrity,
		Initializing: memory.InitZeroed,
	})
	if err != nil {
		_ = ch.Close()
		return 0, fmt.Errorf("allocate server queue: %w", err)
	}
	queue, err := slotqueue.Initialize(queueMem.WritableBytes(), s.slots.NumberSlots)
	if err != nil {
		_ = queueMem.Close()
		_ = ch.Close()
		return 0, fmt.Errorf("initialize server queue: %w", err)
	}

	s.nextID++
	c := &conn{
		id:             s.nextID,
		server:         s,
		channel:        ch,
		phase:          phaseHandshake,
		serverQueueMem: queueMem,
		serverQueue:    queue,
	}
	s.clients[c.id] = c

	req := sidechannel.NewConnectionRequest(sidechannel.ConnectionRequest{
		SlotConfig:        s.slots,
		SlotHandle:        s.slotMem.Handle(),
		ServerQueueConfig: memory.QueueMemoryConfig{Capacity: s.slots.NumberSlots},
		ServerQueueHandle: queueMem.Handle(),
	})
	if err := ch.Send(req); err != nil {
		s.dropLocked(c, ReasonTerminated)
		return 0, fmt.Errorf("send connection request: %w", err)
	}

	ch.Start(c)
	logger.Debug("Client accepted", logger.Instance(s.instance), slogConn(c.id))
	return c.id, nil
}

// SendSlot copies payload into a free slot and publishes it to every
// connected client. It returns false when the slot was dropped: no client is
// connected, no slot is free, or a client queue is full.
func (s *Server) SendSlot(payload []byte) (bool, error) {
	if uint64(len(payload)) > s.slots.SlotContentSize {
		return false, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), s.slots.SlotContentSize)
	}

	ctx, span := telemetry.StartProducerSpan(context.Background(), telemetry.SpanProducerSend, s.instance,
		telemetry.Bytes(len(payload)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	targets := s.connectedLocked()
	if len(targets) == 0 {
		s.metrics.RecordSlotDropped(DropNoClient)
		return false, nil
	}

	if len(s.free) == 0 {
		s.reclaimLocked()
	}
	if len(s.free) == 0 {
		s.metrics.RecordSlotDropped(DropNoFreeSlot)
		return false, nil
	}
	for _, c := range targets {
		if !c.logic.HasRoom() {
			s.metrics.RecordSlotDropped(DropNoRoom)
			return false, nil
		}
	}

	index := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	off := s.slots.SlotOffset(index)
	content := s.slotMem.WritableBytes()[off : off+s.slots.SlotContentSize]
	n := copy(content, payload)
	clear(content[n:])

	sent := 0
	s.refs[index] = len(targets)
	for _, c := range targets {
		ok, err := c.logic.Send(index)
		if err != nil || !ok {
			// Room was checked under the lock; only a corrupted queue gets here.
			s.refs[index]--
			s.dropLocked(c, ReasonProtocol)
			continue
		}
		sent++
		if c.listening {
			if err := c.channel.Send(sidechannel.Message{Kind: sidechannel.KindNotification}); err != nil {
				logger.Debug("Notification failed", slogConn(c.id), logger.Err(err))
			}
		}
	}

	if s.refs[index] == 0 {
		s.free = append(s.free, index)
	}
	if sent == 0 {
		s.metrics.RecordSlotDropped(DropNoClient)
		return false, nil
	}

	telemetry.SetAttributes(ctx, telemetry.SlotIndex(index), telemetry.Clients(sent))
	s.metrics.RecordSlotSent(sent, len(payload))
	return true, nil
}

// ReclaimSlots drains every client queue and returns the number of slots
// that became free.
func (s *Server) ReclaimSlots() int {
	_, span := telemetry.StartProducerSpan(context.Background(), telemetry.SpanProducerReclaim, s.instance)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reclaimLocked()
}

func (s *Server) reclaimLocked() int {
	freed := 0
	for _, c := range s.sortedClientsLocked() {
		if c.logic == nil {
			continue
		}
		indices, err := c.logic.Reclaim()
		for _, idx := range indices {
			freed += s.unrefLocked(idx)
		}
		if err != nil {
			logger.Warn("Client released slots inconsistently", slogConn(c.id), logger.Err(err))
			s.dropLocked(c, ReasonProtocol)
		}
	}
	if freed > 0 {
		s.metrics.RecordSlotsReclaimed(freed)
	}
	return freed
}

// unrefLocked drops one reference and returns 1 if the slot became free.
func (s *Server) unrefLocked(index uint32) int {
	if s.refs[index] <= 0 {
		return 0
	}
	s.refs[index]--
	if s.refs[index] > 0 {
		return 0
	}
	s.free = append(s.free, index)
	return 1
}

// FreeSlots returns the number of unused slots.
func (s *Server) FreeSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.free)
}

// IsClosed reports whether Shutdown was called.
func (s *Server) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ClientInfo describes one client of the Server.
type ClientInfo struct {
	ID        uint64 `json:"id"`
	Phase     string `json:"phase"`
	Listening bool   `json:"listening"`
	InFlight  int    `json:"in_flight"`
}

// Clients returns a snapshot of the clients, ordered by ID.
func (s *Server) Clients() []ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.sortedClientsLocked() {
		info := ClientInfo{ID: c.id, Phase: c.phase.String(), Listening: c.listening}
		if c.logic != nil {
			info.InFlight = len(c.logic.InFlight())
		}
		out = append(out, info)
	}
	return out
}

// Shutdown announces an orderly shutdown to every client, closes their side
// channels and releases the slot memory. Clients keep their own mappings and
// may drain slots already sent.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, c := range s.sortedClientsLocked() {
		if err := c.channel.Send(sidechannel.Message{Kind: sidechannel.KindShutdown}); err != nil {
			logger.Debug("Shutdown notice failed", slogConn(c.id), logger.Err(err))
		}
		s.dropLocked(c, ReasonShutdown)
	}

	logger.Info("Producer shut down", logger.Instance(s.instance))
	return s.slotMem.Close()
}

func (s *Server) connectedLocked() []*conn {
	var out []*conn
	for _, c := range s.sortedClientsLocked() {
		if c.phase == phaseConnected {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) sortedClientsLocked() []*conn {
	out := make([]*conn, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// dropLocked forgets a client: its in-flight slots lose their reference and
// its memory and side channel are released.
func (s *Server) dropLocked(c *conn, reason string) {
	if _, ok := s.clients[c.id]; !ok {
		return
	}
	delete(s.clients, c.id)

	if c.logic != nil {
		freed := 0
		for _, idx := range c.logic.InFlight() {
			freed += s.unrefLocked(idx)
		}
		if freed > 0 {
			s.metrics.RecordSlotsReclaimed(freed)
		}
	}
	c.phase = phaseGone
	c.release()

	s.metrics.RecordClientDisconnected(reason)
	s.metrics.SetConnectedClients(len(s.connectedLocked()))

	level := logger.LevelInfo
	if reason != ReasonShutdown {
		level = logger.LevelWarn
	}
	logger.Log(level, "Client dropped", logger.Instance(s.instance), slogConn(c.id), "reason", reason)
}

// completeHandshake maps the client queue announced by AckConnectionRequest.
func (s *Server) completeHandshake(c *conn, msg sidechannel.Message) error {
	if msg.QueueConfig.Capacity < s.slots.NumberSlots {
		return zcerrors.Newf(zcerrors.ErrProtocol, "client queue capacity %d below slot count %d",
			msg.QueueConfig.Capacity, s.slots.NumberSlots)
	}

	mem, err := s.provider.MapReadWritable(msg.QueueHandle)
	if err != nil {
		return zcerrors.Wrap(zcerrors.ErrProtocol, "map client queue", err)
	}
	queue, err := slotqueue.Initialize(mem.WritableBytes(), msg.QueueConfig.Capacity)
	if err != nil {
		_ = mem.Close()
		return zcerrors.Wrap(zcerrors.ErrProtocol, "initialize client queue", err)
	}
	lg, err := logic.NewServer(logic.ServerConfig{Slots: s.slots, ServerQueue: c.serverQueue, ClientQueue: queue})
	if err != nil {
		_ = mem.Close()
		return zcerrors.Wrap(zcerrors.ErrProtocol, "build server logic", err)
	}

	if err := c.channel.Send(sidechannel.Message{Kind: sidechannel.KindAckQueueInitialization}); err != nil {
		_ = mem.Close()
		return zcerrors.NewPeerCrashedError("send queue ack", err)
	}

	c.clientQueueMem = mem
	c.logic = lg
	c.phase = phaseConnected
	s.metrics.SetConnectedClients(len(s.connectedLocked()))
	logger.Info("Client connected", logger.Instance(s.instance), slogConn(c.id))
	return nil
}
