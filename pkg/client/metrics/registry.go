package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOrReuse registers a collector with the given registerer.
// If the collector is already registered, it returns the existing one
// so that a remount keeps exporting the same series. Panics on any other
// registration failure.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}
