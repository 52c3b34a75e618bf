package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Register adds collector to the default registry. When an equivalent
// collector already exists the existing one is returned so repeated
// construction in tests shares a single series.
func Register[T prometheus.Collector](collector T) T {
	if err := prometheus.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return collector
}
