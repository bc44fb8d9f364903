package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tile-protocol/tile-go/internal/simulator"
	"github.com/tile-protocol/tile-go/pkg/tileerr"
	"github.com/tile-protocol/tile-go/pkg/toa"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.HandshakeTimeout = 500 * time.Millisecond
	cfg.StepTimeout = 100 * time.Millisecond
	cfg.ScanTimeout = 50 * time.Millisecond
	cfg.Backoff.Initial = time.Millisecond
	cfg.Backoff.Max = 5 * time.Millisecond
	return cfg
}

func newTestOrchestrator(sim *simulator.Simulator, cfg Config) *Orchestrator {
	return New(Adapters{Scanner: sim, Connector: sim, Secrets: sim}, cfg, nil)
}

func ringParams() toa.RingParams {
	return toa.RingParams{Volume: toa.VolumeHigh, DurationSeconds: 3}
}

func TestRing(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	orch := newTestOrchestrator(sim, testConfig())

	ack, err := orch.Ring(context.Background(), tile.UUID, ringParams())
	require.NoError(t, err)
	assert.Equal(t, toa.OpRing, ack.Acked)
	assert.True(t, ack.Status.IsSuccess())
	assert.True(t, tile.Ringing())
	assert.Equal(t, toa.VolumeHigh, tile.Volume())
}

func TestRingStopRoundTrip(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	orch := newTestOrchestrator(sim, testConfig())
	ctx := context.Background()

	_, err := orch.Ring(ctx, tile.UUID, ringParams())
	require.NoError(t, err)
	require.True(t, tile.Ringing())

	_, err = orch.Stop(ctx, tile.UUID)
	require.NoError(t, err)
	assert.False(t, tile.Ringing())
}

func TestSetVolume(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.SetVolume(context.Background(), tile.UUID, toa.VolumeLow)
	require.NoError(t, err)
	assert.Equal(t, toa.VolumeLow, tile.Volume())

	_, err = orch.SetVolume(context.Background(), tile.UUID, toa.Volume(42))
	assert.True(t, tileerr.IsKind(err, tileerr.KindInvalidParameter))
}

func TestRingUnknownTile(t *testing.T) {
	sim := simulator.New()
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.Ring(context.Background(), uuid.New(), ringParams())
	assert.True(t, tileerr.IsKind(err, tileerr.KindNoSecret), "err = %v", err)
}

func TestRingTileOutOfRange(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	tile.Faults.Hidden = true
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.Ring(context.Background(), tile.UUID, ringParams())
	assert.True(t, tileerr.IsKind(err, tileerr.KindCacheMiss), "err = %v", err)
	assert.Equal(t, 0, tile.Connects())
}

func TestRingInvalidParamsNoRadio(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.Ring(context.Background(), tile.UUID, toa.RingParams{
		Volume:          toa.VolumeHigh,
		DurationSeconds: 99,
	})
	assert.True(t, tileerr.IsKind(err, tileerr.KindInvalidParameter))
	assert.Equal(t, 0, tile.Connects(), "invalid input must not touch the transport")
}

func TestRingRetriesTransientConnectFailure(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	tile.Faults.ConnectFailures = 2
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.Ring(context.Background(), tile.UUID, ringParams())
	require.NoError(t, err)
	assert.Equal(t, 3, tile.Connects(), "two failed attempts plus the successful one")
	assert.True(t, tile.Ringing())
}

func TestRingRetriesExhausted(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	tile.Faults.RefuseConnect = true
	cfg := testConfig()
	cfg.MaxAttempts = 2
	orch := newTestOrchestrator(sim, cfg)

	_, err := orch.Ring(context.Background(), tile.UUID, ringParams())
	require.Error(t, err)
	assert.True(t, tileerr.IsRetryable(err), "exhausted retries surface the last retryable error")
	assert.Equal(t, 2, tile.Connects())
}

func TestRingStaleSecretNotRetried(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	tile.Faults.WrongSecret = true
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.Ring(context.Background(), tile.UUID, ringParams())
	assert.True(t, tileerr.IsKind(err, tileerr.KindAuthRejected), "err = %v", err)
	assert.Equal(t, 1, tile.Connects(), "rejected authentication must not be retried")
}

func TestRingSilentTileRetried(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	tile.Faults.DropRandT = true
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.Ring(context.Background(), tile.UUID, ringParams())
	require.Error(t, err)
	assert.True(t, tileerr.IsRetryable(err), "a silent tile is a transport problem: %v", err)
	assert.Equal(t, DefaultMaxAttempts, tile.Connects(), "every attempt restarts the handshake")
}

func TestRingMalformedNonceNotRetried(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	tile.Faults.ShortRandT = true
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.Ring(context.Background(), tile.UUID, ringParams())
	assert.True(t, tileerr.IsKind(err, tileerr.KindProtocolViolation), "err = %v", err)
	assert.Equal(t, 1, tile.Connects())
}

func TestRingUnansweredOpenNotRetried(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	tile.Faults.IgnoreOpen = true
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.Ring(context.Background(), tile.UUID, ringParams())
	assert.True(t, tileerr.IsKind(err, tileerr.KindAuthRejected), "err = %v", err)
	assert.Equal(t, 1, tile.Connects())
}

func TestRingRefusedOpenNotRetried(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	tile.Faults.RefuseOpen = true
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.Ring(context.Background(), tile.UUID, ringParams())
	assert.True(t, tileerr.IsKind(err, tileerr.KindAuthRejected), "err = %v", err)
	assert.Equal(t, 1, tile.Connects())
}

func TestRingResendsAfterDroppedAck(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	tile.Faults.DropAcks = 1
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.Ring(context.Background(), tile.UUID, ringParams())
	require.NoError(t, err)
	assert.True(t, tile.Ringing())
	assert.Equal(t, 1, tile.Connects(), "the re-send happens inside the channel, not as a new session")
}

func TestRingTamperedAckFatal(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	tile.Faults.CorruptAcks = 1
	orch := newTestOrchestrator(sim, testConfig())

	_, err := orch.Ring(context.Background(), tile.UUID, ringParams())
	assert.True(t, tileerr.IsKind(err, tileerr.KindTagMismatch), "err = %v", err)
	assert.Equal(t, 1, tile.Connects(), "an integrity failure must not be retried")
}

func TestBreakerOpensOnRepeatedRejection(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	tile.Faults.WrongSecret = true

	cfg := testConfig()
	cfg.Breaker.MaxFailures = 2
	cfg.Breaker.Timeout = time.Hour
	orch := newTestOrchestrator(sim, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := orch.Ring(ctx, tile.UUID, ringParams())
		require.True(t, tileerr.IsKind(err, tileerr.KindAuthRejected))
	}

	_, err := orch.Ring(ctx, tile.UUID, ringParams())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, tile.Connects(), "open circuit must not touch the radio")
}

func TestBreakerIsPerTile(t *testing.T) {
	sim := simulator.New()
	bad := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	bad.Faults.WrongSecret = true
	good := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0002")})

	cfg := testConfig()
	cfg.Breaker.MaxFailures = 1
	cfg.Breaker.Timeout = time.Hour
	orch := newTestOrchestrator(sim, cfg)
	ctx := context.Background()

	_, err := orch.Ring(ctx, bad.UUID, ringParams())
	require.True(t, tileerr.IsKind(err, tileerr.KindAuthRejected))
	_, err = orch.Ring(ctx, bad.UUID, ringParams())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)

	_, err = orch.Ring(ctx, good.UUID, ringParams())
	require.NoError(t, err, "one tile's open circuit must not affect another")
}

func TestScanTilesUsesCache(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	orch := newTestOrchestrator(sim, testConfig())
	ctx := context.Background()

	first, err := orch.ScanTiles(ctx, 0, false)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The tile disappears, but the cached scan is still fresh.
	tile.Faults.Hidden = true
	cached, err := orch.ScanTiles(ctx, 0, false)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	refreshed, err := orch.ScanTiles(ctx, 0, true)
	require.NoError(t, err)
	assert.Empty(t, refreshed)
}

func TestRefresh(t *testing.T) {
	sim := simulator.New()
	sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	orch := newTestOrchestrator(sim, testConfig())

	results, err := orch.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestClearCache(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	orch := newTestOrchestrator(sim, testConfig())
	ctx := context.Background()

	_, err := orch.ScanTiles(ctx, 0, false)
	require.NoError(t, err)

	tile.Faults.Hidden = true
	orch.ClearCache()

	results, err := orch.ScanTiles(ctx, 0, false)
	require.NoError(t, err)
	assert.Empty(t, results, "cleared cache must force a fresh scan")
}

func TestRingAfterAddressChange(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	orch := newTestOrchestrator(sim, testConfig())
	ctx := context.Background()

	_, err := orch.Ring(ctx, tile.UUID, ringParams())
	require.NoError(t, err)

	// The tile comes back on a new random address. The stale cache entry
	// fails the connect; clearing and re-scanning recovers.
	tile.Address = "aa:bb:cc:dd:ee:ff"
	orch.ClearCache()

	_, err = orch.Ring(ctx, tile.UUID, ringParams())
	require.NoError(t, err)
}

func TestConcurrentRings(t *testing.T) {
	sim := simulator.New()
	a := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 000a")})
	b := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 000b")})
	orch := newTestOrchestrator(sim, testConfig())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, tile := range []*simulator.Tile{a, b} {
		i, tile := i, tile
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = orch.Ring(context.Background(), tile.UUID, ringParams())
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.True(t, a.Ringing())
	assert.True(t, b.Ringing())
}

func TestRingCanceledWhileQueued(t *testing.T) {
	sim := simulator.New()
	tile := sim.AddTile(&simulator.Tile{Secret: []byte("tile secret 0001")})
	orch := newTestOrchestrator(sim, testConfig())

	// Occupy the radio slot, then cancel a queued caller.
	require.NoError(t, orch.acquireRadio(context.Background()))
	defer orch.releaseRadio()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := orch.Ring(ctx, tile.UUID, ringParams())
	assert.True(t, tileerr.IsKind(err, tileerr.KindTimeout), "err = %v", err)
}
