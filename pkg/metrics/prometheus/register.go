// Package prometheus implements the pkg/metrics interfaces on top of the
// Prometheus client library.
//
// Constructors return nil when given a nil registerer, and every method is a
// no-op on a nil receiver.
package prometheus

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zerocopy"

// register registers c, reusing an identical collector that is already
// registered so several clients of one process share their series.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
