package machine

import "github.com/riftlabs/statekit/machine/emit"

// Option configures a Driver at construction time.
type Option[S, N, R, T, U any] func(*driverConfig[S, N, R, T, U])

type driverConfig[S, N, R, T, U any] struct {
	emitter        emit.Emitter
	metrics        *PrometheusMetrics
	actionCapacity int
	queueDepth     int
}

func defaultConfig[S, N, R, T, U any]() driverConfig[S, N, R, T, U] {
	return driverConfig[S, N, R, T, U]{
		emitter:        emit.NewNullEmitter(),
		actionCapacity: defaultActionCapacity,
		queueDepth:     64,
	}
}

// WithEmitter sets the observability sink used for transition, restore,
// and driver events. The default is a NullEmitter.
func WithEmitter[S, N, R, T, U any](e emit.Emitter) Option[S, N, R, T, U] {
	return func(c *driverConfig[S, N, R, T, U]) { c.emitter = e }
}

// WithMetrics enables Prometheus instrumentation. Without it, the driver
// records no metrics.
func WithMetrics[S, N, R, T, U any](m *PrometheusMetrics) Option[S, N, R, T, U] {
	return func(c *driverConfig[S, N, R, T, U]) { c.metrics = m }
}

// WithActionCapacity bounds how many actions a single transition or
// Restore call may queue before Actions.Add starts returning
// ErrCapacityExceeded. Default 256.
func WithActionCapacity[S, N, R, T, U any](n int) Option[S, N, R, T, U] {
	return func(c *driverConfig[S, N, R, T, U]) { c.actionCapacity = n }
}

// WithQueueDepth sets the buffer size of the driver's input queue, which
// holds both Enqueue'd Normal inputs and Submit'd completions awaiting
// processing by Run. Default 64.
func WithQueueDepth[S, N, R, T, U any](n int) Option[S, N, R, T, U] {
	return func(c *driverConfig[S, N, R, T, U]) { c.queueDepth = n }
}
