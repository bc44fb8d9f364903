package handshake

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/tile-protocol/tile-go/pkg/gatt"
	"github.com/tile-protocol/tile-go/pkg/log"
	"github.com/tile-protocol/tile-go/pkg/tilecrypto"
	"github.com/tile-protocol/tile-go/pkg/tileerr"
	"github.com/tile-protocol/tile-go/pkg/toa"
)

// DefaultStepTimeout bounds each individual handshake step.
const DefaultStepTimeout = 5 * time.Second

// Options configures a handshake session.
type Options struct {
	// StepTimeout bounds each handshake step (default 5s).
	StepTimeout time.Duration

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger

	// SessionID identifies the session in log events.
	SessionID string

	// Address is the tile's physical address, for log events.
	Address string
}

// Result carries what a successful handshake hands to the command channel.
type Result struct {
	// Key is the derived session key. The receiver owns it and must call
	// Zero when the session ends.
	Key *tilecrypto.SessionKey

	// Info is the decoded device info from the TDI read.
	Info *toa.DeviceInfo

	// Notifications is the subscription on the TOA response
	// characteristic, already established during the handshake. The
	// command channel continues to consume it.
	Notifications <-chan []byte
}

// Session drives the four-phase authentication handshake over one open
// connection. Exactly one handshake may run per connection; a Session is
// single-use and a failed attempt must be replaced by a fresh one.
type Session struct {
	conn   gatt.Connection
	secret []byte
	opts   Options
	logger log.Logger

	phase Phase
	used  bool

	// Transient handshake material, scrubbed on failure.
	randA []byte
	randT []byte
	key   *tilecrypto.SessionKey
}

// New creates a handshake session over an open connection. The secret is
// the tile's long-term authentication secret from cloud sync.
func New(conn gatt.Connection, secret []byte, opts Options) *Session {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	return &Session{
		conn:   conn,
		secret: secret,
		opts:   opts,
		logger: log.OrNoop(opts.Logger),
		phase:  PhaseIdle,
	}
}

// Phase returns the current handshake phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// Run performs the handshake to completion. On any failure the session
// enters the terminal FAILED phase, all key material is scrubbed, and the
// classified error is returned; the caller must start over with a fresh
// session because nonces are single-use.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if s.used {
		return nil, tileerr.New(tileerr.KindNotAuthenticated, "handshake session already consumed")
	}
	s.used = true

	if len(s.secret) == 0 {
		return nil, s.fail(tileerr.New(tileerr.KindNoSecret, "no long-term secret for tile"))
	}

	info, err := s.readDeviceInfo(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	s.transition(PhaseInfoRetrieved, "")

	// Subscribe before sending RandA so RandT cannot be missed.
	notifications, err := s.conn.Subscribe(ctx, gatt.CharToaResponse)
	if err != nil {
		return nil, s.fail(tileerr.Wrap(tileerr.KindHandshakeIO, err, "subscribe to response characteristic"))
	}

	if err := s.exchangeNonces(ctx, notifications); err != nil {
		return nil, s.fail(err)
	}
	s.transition(PhaseNonceExchanged, "")

	if err := s.openChannel(ctx, notifications); err != nil {
		return nil, s.fail(err)
	}
	s.transition(PhaseChannelOpen, "")

	s.transition(PhaseAuthenticated, "")

	// Hand the key off; the session no longer owns it.
	key := s.key
	s.key = nil
	s.scrubNonces()

	return &Result{Key: key, Info: info, Notifications: notifications}, nil
}

// readDeviceInfo performs the Idle -> InfoRetrieved step.
func (s *Session) readDeviceInfo(ctx context.Context) (*toa.DeviceInfo, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()

	data, err := s.conn.ReadCharacteristic(stepCtx, gatt.CharDeviceInfo)
	if err != nil {
		return nil, s.classifyIO(err, "device info read")
	}
	s.logFrame(log.DirectionIn, gatt.CharDeviceInfo, data)

	// A garbled TDI read is indistinguishable from a truncated link-layer
	// read, so it classifies as transport I/O and stays retryable.
	info, err := toa.ParseDeviceInfo(data)
	if err != nil {
		return nil, tileerr.Wrap(tileerr.KindHandshakeIO, err, "device info unreadable")
	}
	return info, nil
}

// exchangeNonces performs the InfoRetrieved -> NonceExchanged step: write
// RandA, await RandT by notification.
func (s *Session) exchangeNonces(ctx context.Context, notifications <-chan []byte) error {
	randA, err := tilecrypto.NewNonce()
	if err != nil {
		return err
	}
	s.randA = randA

	stepCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()

	if err := s.conn.WriteCharacteristic(stepCtx, gatt.CharToaCommand, randA); err != nil {
		return s.classifyIO(err, "nonce write")
	}
	s.logFrame(log.DirectionOut, gatt.CharToaCommand, randA)

	randT, err := awaitNotification(stepCtx, notifications)
	if err != nil {
		return tileerr.Wrap(tileerr.KindHandshakeIO, err, "no RandT within step timeout")
	}
	s.logFrame(log.DirectionIn, gatt.CharToaResponse, randT)

	if len(randT) != tilecrypto.NonceSize {
		return tileerr.New(tileerr.KindProtocolViolation,
			"RandT length %d, want %d", len(randT), tilecrypto.NonceSize)
	}
	if bytes.Equal(randT, randA) {
		// A reflected nonce means the peer is not performing the exchange.
		return tileerr.New(tileerr.KindProtocolViolation, "RandT echoes RandA")
	}
	s.randT = randT
	return nil
}

// openChannel performs the NonceExchanged -> ChannelOpen step: derive the
// session key and send a signed channel-open. An unacknowledged or
// negatively-acknowledged open means the long-term secret is likely stale
// and is surfaced as AUTH_REJECTED, distinct from I/O failures, so the host
// can prompt for a credential re-sync instead of retrying blindly.
func (s *Session) openChannel(ctx context.Context, notifications <-chan []byte) error {
	key, err := tilecrypto.DeriveSessionKey(s.secret, s.randA, s.randT)
	if err != nil {
		return err
	}
	s.key = key

	frame, err := toa.EncodeFrame(key, toa.OpOpenChannel, nil, 0)
	if err != nil {
		return err
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()

	if err := s.conn.WriteCharacteristic(stepCtx, gatt.CharToaCommand, frame); err != nil {
		return s.classifyIO(err, "channel open write")
	}
	s.logFrame(log.DirectionOut, gatt.CharToaCommand, frame)

	resp, err := awaitNotification(stepCtx, notifications)
	if err != nil {
		return tileerr.Wrap(tileerr.KindAuthRejected, err, "channel open not acknowledged")
	}
	s.logFrame(log.DirectionIn, gatt.CharToaResponse, resp)

	ready, err := toa.VerifyFrame(key, resp)
	if err != nil {
		// A bad tag on the open response means the tile derived a
		// different key, i.e. the secrets disagree.
		if tileerr.IsKind(err, tileerr.KindTagMismatch) {
			return tileerr.Wrap(tileerr.KindAuthRejected, err, "channel open response signed with different key")
		}
		return err
	}

	switch ready.Opcode {
	case toa.OpReady:
		return nil
	case toa.OpError:
		return tileerr.New(tileerr.KindAuthRejected, "tile refused channel open")
	default:
		return tileerr.New(tileerr.KindProtocolViolation,
			"expected READY frame, got %s", ready.Opcode)
	}
}

// fail moves the session to the terminal FAILED phase and scrubs all
// transient key material.
func (s *Session) fail(err error) error {
	s.transition(PhaseFailed, err.Error())
	if s.key != nil {
		s.key.Zero()
		s.key = nil
	}
	s.scrubNonces()

	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.opts.SessionID,
		Direction: log.DirectionIn,
		Layer:     log.LayerProtocol,
		Category:  log.CategoryError,
		Address:   s.opts.Address,
		Error: &log.ErrorEventData{
			Layer:   log.LayerProtocol,
			Kind:    tileerr.KindOf(err).String(),
			Message: err.Error(),
			Context: "handshake",
		},
	})
	return err
}

func (s *Session) scrubNonces() {
	for i := range s.randA {
		s.randA[i] = 0
	}
	for i := range s.randT {
		s.randT[i] = 0
	}
	s.randA = nil
	s.randT = nil
}

// classifyIO maps a transport error to the right kind: deadline expiry is
// TIMEOUT, everything else HANDSHAKE_IO. Both are retryable from Idle.
func (s *Session) classifyIO(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return tileerr.Wrap(tileerr.KindTimeout, err, "%s timed out", op)
	}
	return tileerr.Wrap(tileerr.KindHandshakeIO, err, "%s failed", op)
}

func (s *Session) transition(next Phase, reason string) {
	prev := s.phase
	s.phase = next
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.opts.SessionID,
		Direction: log.DirectionOut,
		Layer:     log.LayerProtocol,
		Category:  log.CategoryState,
		Address:   s.opts.Address,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityHandshake,
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

func (s *Session) logFrame(dir log.Direction, char string, data []byte) {
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.opts.SessionID,
		Direction: dir,
		Layer:     log.LayerTransport,
		Category:  log.CategoryFrame,
		Address:   s.opts.Address,
		Frame:     log.NewFrameEvent(char, data),
	})
}

// awaitNotification waits for the next notification with context
// cancellation support. A closed channel reports as an I/O failure.
func awaitNotification(ctx context.Context, ch <-chan []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-ch:
		if !ok {
			return nil, tileerr.New(tileerr.KindHandshakeIO, "notification stream closed")
		}
		return data, nil
	}
}
