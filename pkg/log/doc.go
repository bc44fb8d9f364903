// Package log provides structured protocol event logging for tile-go.
//
// Events are captured at three layers: transport (raw characteristic I/O),
// protocol (handshake and signed frames), and session (orchestration).
// Applications receive events through the Logger interface; NoopLogger
// disables logging, MultiLogger fans out to several sinks, SlogAdapter
// bridges to log/slog for console output, and FileLogger records compact
// CBOR traces that Reader can replay for offline analysis of BLE sessions.
package log
