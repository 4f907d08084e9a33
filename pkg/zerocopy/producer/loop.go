package producer

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/marmos91/zerocopy/internal/logger"
)

// frameHeaderSize is the size of the header written by FramePayload.
const frameHeaderSize = 16

// PayloadFunc produces the payload of the seq-th send.
type PayloadFunc func(seq uint64) []byte

// FramePayload returns a size-byte payload carrying seq and the send time in
// its first 16 bytes, big endian. The rest repeats the low byte of seq.
func FramePayload(size int) PayloadFunc {
	return func(seq uint64) []byte {
		buf := make([]byte, max(size, frameHeaderSize))
		binary.BigEndian.PutUint64(buf[0:8], seq)
		binary.BigEndian.PutUint64(buf[8:16], uint64(time.Now().UnixNano()))
		for i := frameHeaderSize; i < len(buf); i++ {
			buf[i] = byte(seq)
		}
		return buf[:size:size]
	}
}

// ParseFrame extracts the sequence number and send time from a payload
// written by FramePayload.
func ParseFrame(payload []byte) (seq uint64, sent time.Time, ok bool) {
	if len(payload) < frameHeaderSize {
		return 0, time.Time{}, false
	}
	seq = binary.BigEndian.Uint64(payload[0:8])
	sent = time.Unix(0, int64(binary.BigEndian.Uint64(payload[8:16])))
	return seq, sent, true
}

// Produce sends one payload per interval until ctx is cancelled. Sends that
// reach no client are dropped and do not consume a sequence number.
func (s *Server) Produce(ctx context.Context, interval time.Duration, payload PayloadFunc) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		sent, err := s.SendSlot(payload(seq))
		switch {
		case errors.Is(err, ErrClosed):
			return nil
		case err != nil:
			return err
		case sent:
			seq++
		}
	}
}

// ReclaimEvery returns released slots to the free pool once per interval
// until ctx is cancelled.
func (s *Server) ReclaimEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.IsClosed() {
				return nil
			}
			if n := s.ReclaimSlots(); n > 0 {
				logger.Debug("Reclaimed slots", logger.Instance(s.instance), "count", n)
			}
		}
	}
}
