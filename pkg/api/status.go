package api

import (
	"fmt"

	"github.com/marmos91/zerocopy/pkg/api/handlers"
	"github.com/marmos91/zerocopy/pkg/recorder"
	"github.com/marmos91/zerocopy/pkg/zerocopy/memcon"
	"github.com/marmos91/zerocopy/pkg/zerocopy/producer"
)

// Roles reported in Status.
const (
	RoleProducer = "producer"
	RoleConsumer = "consumer"
)

// Status is the payload of GET /status.
type Status struct {
	Role     string          `json:"role" yaml:"role"`
	Instance string          `json:"instance" yaml:"instance"`
	Consumer *ConsumerStatus `json:"consumer,omitempty" yaml:"consumer,omitempty"`
	Producer *ProducerStatus `json:"producer,omitempty" yaml:"producer,omitempty"`
}

// ConsumerStatus describes a consumer's client connection.
type ConsumerStatus struct {
	ClientID string `json:"client_id" yaml:"client_id"`
	State    string `json:"state" yaml:"state"`
	InUse    bool   `json:"in_use" yaml:"in_use"`

	// Recorded is the number of payloads archived, absent without a recorder.
	Recorded *uint64 `json:"recorded,omitempty" yaml:"recorded,omitempty"`
}

// ProducerStatus describes a producer and its clients.
type ProducerStatus struct {
	Slots     uint32                `json:"slots" yaml:"slots"`
	SlotSize  uint64                `json:"slot_size" yaml:"slot_size"`
	FreeSlots int                   `json:"free_slots" yaml:"free_slots"`
	Closed    bool                  `json:"closed" yaml:"closed"`
	Clients   []producer.ClientInfo `json:"clients" yaml:"clients"`
}

type consumerSource struct {
	instance string
	client   *memcon.Client
	recorder *recorder.Recorder
}

// ConsumerSource exposes a consumer's client to the API. rec may be nil.
func ConsumerSource(instance string, client *memcon.Client, rec *recorder.Recorder) handlers.Source {
	return &consumerSource{instance: instance, client: client, recorder: rec}
}

func (s *consumerSource) Ready() error {
	if state := s.client.GetState(); state != memcon.StateConnected {
		return fmt.Errorf("client is %s", state)
	}
	return nil
}

func (s *consumerSource) Status() any {
	st := &ConsumerStatus{
		ClientID: s.client.ID(),
		State:    s.client.GetState().String(),
		InUse:    s.client.IsInUse(),
	}
	if s.recorder != nil {
		n := s.recorder.Recorded()
		st.Recorded = &n
	}
	return Status{Role: RoleConsumer, Instance: s.instance, Consumer: st}
}

type producerSource struct {
	instance string
	server   *producer.Server
}

// ProducerSource exposes a producer to the API.
func ProducerSource(instance string, server *producer.Server) handlers.Source {
	return &producerSource{instance: instance, server: server}
}

func (s *producerSource) Ready() error {
	if s.server.IsClosed() {
		return producer.ErrClosed
	}
	return nil
}

func (s *producerSource) Status() any {
	slots := s.server.Slots()
	return Status{
		Role:     RoleProducer,
		Instance: s.instance,
		Producer: &ProducerStatus{
			Slots:     slots.NumberSlots,
			SlotSize:  slots.SlotContentSize,
			FreeSlots: s.server.FreeSlots(),
			Closed:    s.server.IsClosed(),
			Clients:   s.server.Clients(),
		},
	}
}
