package channel

import (
	"context"
	"sync"
	"time"

	"github.com/tile-protocol/tile-go/pkg/gatt"
	"github.com/tile-protocol/tile-go/pkg/log"
	"github.com/tile-protocol/tile-go/pkg/tilecrypto"
	"github.com/tile-protocol/tile-go/pkg/tileerr"
	"github.com/tile-protocol/tile-go/pkg/toa"
)

// Defaults for command acknowledgement handling.
const (
	// DefaultAckTimeout bounds one wait for a command acknowledgement.
	DefaultAckTimeout = 2 * time.Second

	// DefaultResendLimit is how many times a command with a lost ack is
	// re-sent with the same counter before giving up.
	DefaultResendLimit = 3
)

// Options configures a command channel.
type Options struct {
	// AckTimeout bounds each wait for an acknowledgement (default 2s).
	AckTimeout time.Duration

	// ResendLimit bounds idempotent re-sends on a lost ack (default 3).
	ResendLimit int

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger

	// SessionID identifies the session in log events.
	SessionID string

	// Address is the tile's physical address, for log events.
	Address string
}

// Channel sends signed command frames over an authenticated session and
// verifies the tile's signed responses. It takes ownership of the session
// key: Close scrubs it.
//
// The sequence counter increments on send, not on ack, so a lost ack can
// never desynchronize the counter and block future sends; the lost ack is
// tolerated by re-sending the identical frame (same counter) a bounded
// number of times.
type Channel struct {
	conn          gatt.Connection
	key           *tilecrypto.SessionKey
	notifications <-chan []byte
	opts          Options
	logger        log.Logger

	mu  sync.Mutex
	seq uint32
}

// New creates a command channel from a completed handshake. The channel
// owns key from this point on. Counter 0 was consumed by the channel open,
// so commands start at 1.
func New(conn gatt.Connection, key *tilecrypto.SessionKey, notifications <-chan []byte, opts Options) *Channel {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.ResendLimit <= 0 {
		opts.ResendLimit = DefaultResendLimit
	}
	return &Channel{
		conn:          conn,
		key:           key,
		notifications: notifications,
		opts:          opts,
		logger:        log.OrNoop(opts.Logger),
		seq:           1,
	}
}

// Ring commands the tile's sounder. Parameters are validated before any
// transport I/O; no partial frame is ever sent for invalid input.
func (c *Channel) Ring(ctx context.Context, params toa.RingParams) (*toa.Ack, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return c.Send(ctx, toa.OpRing, params.Payload())
}

// SetVolume changes the sounder volume.
func (c *Channel) SetVolume(ctx context.Context, v toa.Volume) (*toa.Ack, error) {
	switch v {
	case toa.VolumeLow, toa.VolumeMedium, toa.VolumeHigh:
	default:
		return nil, tileerr.New(tileerr.KindInvalidParameter, "unknown volume %d", v)
	}
	return c.Send(ctx, toa.OpSetVolume, toa.VolumePayload(v))
}

// Stop silences the sounder.
func (c *Channel) Stop(ctx context.Context) (*toa.Ack, error) {
	return c.Send(ctx, toa.OpStop, nil)
}

// Send signs and transmits one command frame, then waits for the tile's
// signed acknowledgement. A lost ack is retried with the identical counter
// up to the resend limit. A tag mismatch on any incoming frame is fatal:
// the channel invalidates itself and the caller must re-handshake.
func (c *Channel) Send(ctx context.Context, opcode toa.Opcode, payload []byte) (*toa.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.key.Valid() {
		return nil, tileerr.New(tileerr.KindNotAuthenticated,
			"%s before authenticated phase", opcode)
	}

	counter := c.seq
	c.seq++

	frame, err := toa.EncodeFrame(c.key, opcode, payload, counter)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.ResendLimit; attempt++ {
		ack, err := c.transmit(ctx, opcode, frame, counter)
		if err == nil {
			return ack, nil
		}
		if !tileerr.IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}
	return nil, tileerr.Wrap(tileerr.KindTimeout, lastErr,
		"%s unacknowledged after %d sends", opcode, c.opts.ResendLimit+1)
}

// transmit performs one write + ack wait round.
func (c *Channel) transmit(ctx context.Context, opcode toa.Opcode, frame []byte, counter uint32) (*toa.Ack, error) {
	writeCtx, cancel := context.WithTimeout(ctx, c.opts.AckTimeout)
	defer cancel()

	if err := c.conn.WriteCharacteristic(writeCtx, gatt.CharToaCommand, frame); err != nil {
		return nil, tileerr.Wrap(tileerr.KindHandshakeIO, err, "%s write failed", opcode)
	}
	c.logFrame(log.DirectionOut, frame)

	select {
	case <-writeCtx.Done():
		return nil, tileerr.Wrap(tileerr.KindTimeout, writeCtx.Err(),
			"no ack for %s (counter %d)", opcode, counter)

	case data, ok := <-c.notifications:
		if !ok {
			return nil, tileerr.New(tileerr.KindHandshakeIO, "notification stream closed")
		}
		c.logFrame(log.DirectionIn, data)

		resp, err := toa.VerifyFrame(c.key, data)
		if err != nil {
			if tileerr.IsKind(err, tileerr.KindTagMismatch) {
				// Spoofed or corrupted peer response. Kill the channel;
				// only a full re-handshake may continue.
				c.key.Zero()
			}
			return nil, err
		}
		return c.interpret(opcode, resp)
	}
}

// interpret maps the tile's signed response to an ack or a classified error.
func (c *Channel) interpret(sent toa.Opcode, resp *toa.Frame) (*toa.Ack, error) {
	switch resp.Opcode {
	case toa.OpAck:
		ack, err := toa.ParseAck(resp)
		if err != nil {
			return nil, err
		}
		if ack.Acked != sent {
			return nil, tileerr.New(tileerr.KindProtocolViolation,
				"ack for %s while waiting for %s", ack.Acked, sent)
		}
		if !ack.Status.IsSuccess() {
			return nil, statusError(sent, ack.Status)
		}
		return ack, nil

	case toa.OpError:
		status := toa.StatusInvalidCommand
		if len(resp.Payload) == 1 {
			status = toa.Status(resp.Payload[0])
		}
		return nil, statusError(sent, status)

	default:
		return nil, tileerr.New(tileerr.KindProtocolViolation,
			"unexpected %s frame while waiting for ack", resp.Opcode)
	}
}

// statusError classifies a negative tile response: authorization problems
// surface like a stale secret, busy is transient, anything else points at
// the request itself.
func statusError(opcode toa.Opcode, status toa.Status) error {
	switch status {
	case toa.StatusNotAuthorized:
		return tileerr.New(tileerr.KindAuthRejected, "tile refused %s: %s", opcode, status)
	case toa.StatusBusy:
		return tileerr.New(tileerr.KindHandshakeIO, "tile busy on %s", opcode)
	default:
		return tileerr.New(tileerr.KindInvalidParameter, "tile rejected %s: %s", opcode, status)
	}
}

// Counter returns the next sequence counter. Diagnostics and tests only.
func (c *Channel) Counter() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close scrubs the session key. The channel is unusable afterwards; it is
// safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key.Zero()
}

func (c *Channel) logFrame(dir log.Direction, data []byte) {
	char := gatt.CharToaCommand
	if dir == log.DirectionIn {
		char = gatt.CharToaResponse
	}
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: c.opts.SessionID,
		Direction: dir,
		Layer:     log.LayerProtocol,
		Category:  log.CategoryFrame,
		Address:   c.opts.Address,
		Frame:     log.NewFrameEvent(char, data),
	})
}
