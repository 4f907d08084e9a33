package memcon

import (
	"errors"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/pkg/memory"
	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
	"github.com/marmos91/zerocopy/pkg/zerocopy/logic"
)

// connectionResources is everything a completed handshake yields: the slot
// memory, both queue memories and the LogicClient built on top of them.
type connectionResources struct {
	slotMemory     memory.ReadableResource
	serverQueueMem memory.ReadWritableResource
	clientQueueMem memory.ReadWritableResource
	logic          logic.LogicClient
}

// close invalidates the LogicClient and unmaps every region. It returns the
// number of tokens that were still outstanding.
func (r *connectionResources) close() (int, error) {
	outstanding := 0
	if r.logic != nil {
		outstanding = r.logic.Invalidate()
	}
	return outstanding, closeResources(r.clientQueueMem, r.serverQueueMem, r.slotMemory)
}

func closeResources(resources ...memory.ReadableResource) error {
	var errs []error
	for _, res := range resources {
		if res == nil {
			continue
		}
		if err := res.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// descriptor describes the slot memory with a descriptor the caller owns, so
// it survives the teardown of the client's own mapping.
func (r *connectionResources) descriptor(integrity memory.IntegrityLevel) (memory.ReadableDescriptor, error) {
	return memory.ReadableDescriptor{Handle: r.slotMemory.Handle(), Integrity: integrity}.Dup()
}

// receiveSlot pops the next slot. A protocol error corrupts the session.
func (r *connectionResources) receiveSlot(s *baseState) (*logic.SlotToken, error) {
	token, err := r.logic.ReceiveSlot()
	if err != nil {
		if zcerrors.IsProtocol(err) {
			s.corrupt(err)
		}
		return nil, err
	}
	if token == nil {
		return nil, nil
	}

	s.c.metrics.RecordSlotReceived()
	s.c.metrics.SetOutstandingSlots(r.logic.Outstanding())
	logger.Debug("Slot received",
		logger.ClientID(s.c.id), logger.SlotIndex(token.Index()))
	return token, nil
}

func (r *connectionResources) accessSlotContent(c *Client, token *logic.SlotToken) ([]byte, error) {
	data, err := r.logic.AccessSlotContent(token)
	if err != nil {
		c.metrics.RecordTokenRejected("AccessSlotContent")
		return nil, err
	}
	return data, nil
}

// releaseSlot hands the slot back through the client queue. A protocol error
// corrupts the session.
func (r *connectionResources) releaseSlot(s *baseState, token *logic.SlotToken) error {
	if err := r.logic.ReleaseSlot(token); err != nil {
		if zcerrors.IsProtocol(err) {
			s.corrupt(err)
		} else {
			s.c.metrics.RecordTokenRejected("ReleaseSlot")
		}
		return err
	}

	s.c.metrics.RecordSlotReleased()
	s.c.metrics.SetOutstandingSlots(r.logic.Outstanding())
	return nil
}
