package log

// MultiLogger fans every event out to a fixed set of sinks, typically a
// SlogAdapter for the console plus a FileLogger capture.
type MultiLogger struct {
	sinks []Logger
}

var _ Logger = (*MultiLogger)(nil)

// NewMultiLogger combines sinks into one logger. Nil sinks are skipped so
// callers can pass optional loggers without guarding.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	kept := make([]Logger, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiLogger{sinks: kept}
}

// Log delivers the event to every sink in order.
func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		s.Log(event)
	}
}
