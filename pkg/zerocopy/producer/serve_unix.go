//go:build unix

package producer

import (
	"context"
	"errors"
	"net"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/pkg/zerocopy/sidechannel"
)

// Serve accepts clients on l until ctx is cancelled. The listener is closed
// when Serve returns.
func (s *Server) Serve(ctx context.Context, l *sidechannel.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer l.Close()

	logger.Info("Producer listening", logger.Instance(s.instance), logger.Socket(l.Path()))

	for {
		ch, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if _, err := s.Accept(ch); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			logger.Warn("Accept failed", logger.Instance(s.instance), logger.Err(err))
		}
	}
}
