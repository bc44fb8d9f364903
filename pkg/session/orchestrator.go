package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/tile-protocol/tile-go/pkg/cache"
	"github.com/tile-protocol/tile-go/pkg/channel"
	"github.com/tile-protocol/tile-go/pkg/gatt"
	"github.com/tile-protocol/tile-go/pkg/handshake"
	"github.com/tile-protocol/tile-go/pkg/log"
	"github.com/tile-protocol/tile-go/pkg/tileerr"
	"github.com/tile-protocol/tile-go/pkg/toa"
)

// Adapters are the host-supplied Bluetooth and credential integrations the
// orchestrator drives.
type Adapters struct {
	Scanner   gatt.Scanner
	Connector gatt.Connector
	Secrets   gatt.SecretStore
}

// Orchestrator owns the full lifecycle of tile sessions: discovery,
// connection, handshake, command, teardown. One host has one Orchestrator.
//
// BLE radios do not interleave well, so all radio work (scans and
// sessions) is serialized through a single-slot gate. Callers block on the
// gate with their context, never on each other's internals.
type Orchestrator struct {
	adapters Adapters
	cache    *cache.Cache
	cfg      Config
	logger   log.Logger

	radio chan struct{}

	mu       sync.Mutex
	breakers map[uuid.UUID]*gobreaker.CircuitBreaker[*toa.Ack]
}

// New creates an orchestrator. A nil logger disables event logging.
func New(adapters Adapters, cfg Config, logger log.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		adapters: adapters,
		cache:    cache.New(),
		cfg:      cfg,
		logger:   log.OrNoop(logger),
		radio:    make(chan struct{}, 1),
		breakers: make(map[uuid.UUID]*gobreaker.CircuitBreaker[*toa.Ack]),
	}
}

// Ring makes the tile play its sounder. Parameters are validated before
// any radio work; invalid input never touches the transport or the tile's
// circuit breaker.
func (o *Orchestrator) Ring(ctx context.Context, tileUUID uuid.UUID, params toa.RingParams) (*toa.Ack, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return o.command(ctx, tileUUID, func(ctx context.Context, ch *channel.Channel) (*toa.Ack, error) {
		return ch.Ring(ctx, params)
	})
}

// SetVolume changes the tile's sounder volume.
func (o *Orchestrator) SetVolume(ctx context.Context, tileUUID uuid.UUID, v toa.Volume) (*toa.Ack, error) {
	switch v {
	case toa.VolumeLow, toa.VolumeMedium, toa.VolumeHigh:
	default:
		return nil, tileerr.New(tileerr.KindInvalidParameter, "unknown volume %d", v)
	}
	return o.command(ctx, tileUUID, func(ctx context.Context, ch *channel.Channel) (*toa.Ack, error) {
		return ch.SetVolume(ctx, v)
	})
}

// Stop silences the tile's sounder.
func (o *Orchestrator) Stop(ctx context.Context, tileUUID uuid.UUID) (*toa.Ack, error) {
	return o.command(ctx, tileUUID, func(ctx context.Context, ch *channel.Channel) (*toa.Ack, error) {
		return ch.Stop(ctx)
	})
}

// ScanTiles returns the tiles currently in range. Results come from the
// discovery cache when fresh; forceRefresh bypasses the cache and always
// scans. A non-positive timeout uses the configured default.
func (o *Orchestrator) ScanTiles(ctx context.Context, timeout time.Duration, forceRefresh bool) ([]gatt.Advertisement, error) {
	if timeout <= 0 {
		timeout = o.cfg.ScanTimeout
	}
	key := cache.ScanKey(timeout)

	if !forceRefresh {
		if results, err := o.cache.Scan(key); err == nil {
			return results, nil
		}
	}

	if err := o.acquireRadio(ctx); err != nil {
		return nil, err
	}
	defer o.releaseRadio()

	return o.scan(ctx, key, timeout)
}

// Refresh discards nothing but forces a fresh scan, repopulating both the
// scan cache and the per-tile address entries.
func (o *Orchestrator) Refresh(ctx context.Context) ([]gatt.Advertisement, error) {
	return o.ScanTiles(ctx, 0, true)
}

// ClearCache drops all cached scan results and address entries. The next
// operation on any tile will scan again.
func (o *Orchestrator) ClearCache() {
	o.cache.Clear()
}

// scan runs one BLE scan and stores its results. Callers hold the radio.
func (o *Orchestrator) scan(ctx context.Context, key string, timeout time.Duration) ([]gatt.Advertisement, error) {
	results, err := o.adapters.Scanner.Scan(ctx, timeout)
	if err != nil {
		return nil, classifyIO(err, "scan")
	}

	o.cache.StoreScan(key, results)
	for _, adv := range results {
		o.cache.Store(adv.TileUUID, adv.Address)
	}
	return results, nil
}

// command runs one signed command against a tile through its circuit
// breaker. An open circuit fails fast without touching the radio.
func (o *Orchestrator) command(ctx context.Context, tileUUID uuid.UUID, cmd func(context.Context, *channel.Channel) (*toa.Ack, error)) (*toa.Ack, error) {
	cb := o.breaker(tileUUID)
	ack, err := cb.Execute(func() (*toa.Ack, error) {
		return o.runSession(ctx, tileUUID, cmd)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("tile %s circuit open: %w", tileUUID, err)
	}
	return ack, err
}

// runSession drives the session with bounded retries. Only retryable
// failures (transport I/O, timeouts) reattempt; each retry restarts the
// handshake from scratch because nonces are single-use. Rejected
// authentication and tag mismatches surface immediately.
func (o *Orchestrator) runSession(ctx context.Context, tileUUID uuid.UUID, cmd func(context.Context, *channel.Channel) (*toa.Ack, error)) (*toa.Ack, error) {
	secret, err := o.adapters.Secrets.DeviceSecret(tileUUID)
	if err != nil {
		if tileerr.KindOf(err) != tileerr.KindUnknown {
			return nil, err
		}
		return nil, tileerr.Wrap(tileerr.KindNoSecret, err, "no secret for tile %s", tileUUID)
	}

	if err := o.acquireRadio(ctx); err != nil {
		return nil, err
	}
	defer o.releaseRadio()

	sessionID := uuid.NewString()
	backoff := NewBackoff(o.cfg.Backoff)

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		ack, err := o.attempt(ctx, sessionID, tileUUID, secret, cmd)
		if err == nil {
			return ack, nil
		}
		lastErr = err

		if !tileerr.IsRetryable(err) || attempt == o.cfg.MaxAttempts {
			break
		}

		o.logState(sessionID, tileUUID, "", "RETRYING",
			fmt.Sprintf("attempt %d failed: %v", attempt, err))

		select {
		case <-time.After(backoff.Next()):
		case <-ctx.Done():
			return nil, tileerr.Wrap(tileerr.KindTimeout, ctx.Err(), "session canceled during retry wait")
		}
	}
	return nil, lastErr
}

// attempt performs one full session: resolve, connect, handshake, command.
// The connection is closed unconditionally, success or failure.
func (o *Orchestrator) attempt(ctx context.Context, sessionID string, tileUUID uuid.UUID, secret []byte, cmd func(context.Context, *channel.Channel) (*toa.Ack, error)) (ack *toa.Ack, err error) {
	address, err := o.resolve(ctx, tileUUID)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	conn, err := o.adapters.Connector.Connect(connectCtx, address)
	cancel()
	if err != nil {
		return nil, classifyIO(err, "connect to "+address)
	}
	defer conn.Close()

	o.logState(sessionID, tileUUID, address, "CONNECTED", "")

	hsCtx, cancel := context.WithTimeout(ctx, o.cfg.HandshakeTimeout)
	defer cancel()

	hs := handshake.New(conn, secret, handshake.Options{
		StepTimeout: o.cfg.StepTimeout,
		Logger:      o.logger,
		SessionID:   sessionID,
		Address:     address,
	})
	result, err := hs.Run(hsCtx)
	if err != nil {
		return nil, err
	}

	ch := channel.New(conn, result.Key, result.Notifications, channel.Options{
		AckTimeout: o.cfg.StepTimeout,
		Logger:     o.logger,
		SessionID:  sessionID,
		Address:    address,
	})
	defer ch.Close()

	o.logState(sessionID, tileUUID, address, "AUTHENTICATED", "tile "+result.Info.TileID)

	return cmd(ctx, ch)
}

// resolve maps a tile UUID to its current physical address, scanning once
// on a cache miss. Callers hold the radio.
func (o *Orchestrator) resolve(ctx context.Context, tileUUID uuid.UUID) (string, error) {
	address, err := o.cache.Resolve(tileUUID)
	if err == nil {
		return address, nil
	}

	if _, err := o.scan(ctx, cache.ScanKey(o.cfg.ScanTimeout), o.cfg.ScanTimeout); err != nil {
		return "", err
	}

	address, err = o.cache.Resolve(tileUUID)
	if err != nil {
		return "", tileerr.Wrap(tileerr.KindCacheMiss, err, "tile %s not in range", tileUUID)
	}
	return address, nil
}

// breaker returns the tile's circuit breaker, creating it on first use.
func (o *Orchestrator) breaker(tileUUID uuid.UUID) *gobreaker.CircuitBreaker[*toa.Ack] {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cb, ok := o.breakers[tileUUID]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[*toa.Ack](gobreaker.Settings{
		Name:        "tile:" + tileUUID.String(),
		MaxRequests: 1, // one probe in half-open state
		Interval:    o.cfg.Breaker.Interval,
		Timeout:     o.cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.cfg.Breaker.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logState("", tileUUID, "", to.String(), "breaker "+name+" from "+from.String())
		},
		IsSuccessful: func(err error) bool {
			// An out-of-range tile or bad caller input says nothing about
			// the tile misbehaving; neither should open its circuit.
			return err == nil ||
				tileerr.IsKind(err, tileerr.KindInvalidParameter) ||
				tileerr.IsKind(err, tileerr.KindCacheMiss)
		},
	})
	o.breakers[tileUUID] = cb
	return cb
}

// acquireRadio takes the single radio slot, honoring the context.
func (o *Orchestrator) acquireRadio(ctx context.Context) error {
	select {
	case o.radio <- struct{}{}:
		return nil
	case <-ctx.Done():
		return tileerr.Wrap(tileerr.KindTimeout, ctx.Err(), "waiting for radio")
	}
}

func (o *Orchestrator) releaseRadio() {
	<-o.radio
}

func (o *Orchestrator) logState(sessionID string, tileUUID uuid.UUID, address, state, reason string) {
	o.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Direction: log.DirectionOut,
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		TileID:    tileUUID.String(),
		Address:   address,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			NewState: state,
			Reason:   reason,
		},
	})
}

// classifyIO maps a transport error to a retryable kind: deadline overruns
// are timeouts, everything else is handshake I/O.
func classifyIO(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return tileerr.Wrap(tileerr.KindTimeout, err, "%s timed out", op)
	}
	return tileerr.Wrap(tileerr.KindHandshakeIO, err, "%s failed", op)
}
