package log

// Logger receives protocol events from the handshake, channel and session
// layers. Implementations must be safe for concurrent use and should return
// quickly; a slow sink stalls the session that emits into it.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards every event. The zero value is ready to use.
type NoopLogger struct{}

var _ Logger = NoopLogger{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// OrNoop normalizes an optional logger: nil becomes a NoopLogger so callers
// never have to guard their Log calls.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}
