package particle

import "errors"

// Domain errors for the Particle bridge package.
var (
	// ErrConnectionFailed is returned when the event stream request cannot
	// be sent (DNS, TCP, TLS failures).
	ErrConnectionFailed = errors.New("particle: connection to event stream failed")

	// ErrStreamStatus is returned when the event stream answers with a
	// non-2xx HTTP status.
	ErrStreamStatus = errors.New("particle: unexpected event stream status")

	// ErrStreamEnded is returned when the server closes the event stream.
	ErrStreamEnded = errors.New("particle: event stream ended")

	// ErrIdleTimeout is returned when no bytes arrive within the idle timeout.
	ErrIdleTimeout = errors.New("particle: event stream idle timeout")

	// ErrInvalidEnvelope is returned when an SSE payload is not a JSON
	// object carrying a data field.
	ErrInvalidEnvelope = errors.New("particle: invalid event envelope")

	// ErrNotReading is returned when the envelope data is not a sensor reading.
	ErrNotReading = errors.New("particle: event data is not a sensor reading")

	// ErrMalformedReading is returned when a sensor reading lacks a required
	// key or carries a non-numeric value.
	ErrMalformedReading = errors.New("particle: malformed sensor reading")

	// ErrInvalidConfig is returned when the supervisor configuration is unusable.
	ErrInvalidConfig = errors.New("particle: invalid configuration")
)
