// Package simulator provides an in-process tile fleet implementing the
// device side of the protocol. The session orchestrator's tests and the
// tilectl demo shell run against it; real deployments substitute the host
// platform's Bluetooth stack.
package simulator

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tile-protocol/tile-go/pkg/gatt"
	"github.com/tile-protocol/tile-go/pkg/tilecrypto"
	"github.com/tile-protocol/tile-go/pkg/tileerr"
	"github.com/tile-protocol/tile-go/pkg/toa"
)

// Faults script a tile's misbehavior for failure-path testing. The zero
// value is a healthy tile.
type Faults struct {
	// Hidden keeps the tile out of scan results.
	Hidden bool

	// RefuseConnect fails every connection attempt.
	RefuseConnect bool

	// ConnectFailures fails this many connection attempts, then recovers.
	ConnectFailures int

	// DropRandT swallows the host nonce without answering.
	DropRandT bool

	// ShortRandT answers the nonce exchange with a truncated nonce.
	ShortRandT bool

	// IgnoreOpen swallows the channel-open frame without answering.
	IgnoreOpen bool

	// RefuseOpen answers the channel open with a signed ERROR frame.
	RefuseOpen bool

	// WrongSecret makes the tile authenticate with a different secret, as
	// a re-provisioned tile with stale host credentials would.
	WrongSecret bool

	// DropAcks swallows this many command frames, then recovers.
	DropAcks int

	// CorruptAcks flips a tag byte on this many acknowledgements, then
	// recovers.
	CorruptAcks int
}

// Tile is one simulated tracking tag.
type Tile struct {
	UUID     uuid.UUID
	Address  string
	Secret   []byte
	TileID   string // 8 bytes, hex encoded
	Model    string
	Firmware string
	RSSI     int

	Faults Faults

	mu       sync.Mutex
	ringing  bool
	volume   toa.Volume
	connects int
}

// Ringing reports whether the tile's sounder is active.
func (t *Tile) Ringing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ringing
}

// Volume returns the sounder volume last set on the tile.
func (t *Tile) Volume() toa.Volume {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume
}

// Connects returns how many connection attempts reached the tile.
func (t *Tile) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Simulator is a fleet of simulated tiles behind the gatt adapter
// boundary. It implements Scanner, Connector and SecretStore.
type Simulator struct {
	mu    sync.Mutex
	tiles map[uuid.UUID]*Tile

	// ScanDelay simulates scan latency. Zero returns immediately.
	ScanDelay time.Duration
}

// New creates an empty simulator.
func New() *Simulator {
	return &Simulator{tiles: make(map[uuid.UUID]*Tile)}
}

// AddTile registers a tile. Unset identity fields get generated values.
func (s *Simulator) AddTile(t *Tile) *Tile {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.UUID == (uuid.UUID{}) {
		t.UUID = uuid.New()
	}
	if t.Address == "" {
		t.Address = syntheticAddress(t.UUID)
	}
	if t.TileID == "" {
		t.TileID = hex.EncodeToString(t.UUID[:toa.TileIDSize])
	}
	if t.Model == "" {
		t.Model = "DUTCH1"
	}
	if t.Firmware == "" {
		t.Firmware = "01.12.14.0"
	}
	if t.RSSI == 0 {
		t.RSSI = -60
	}
	s.tiles[t.UUID] = t
	return t
}

// Tile returns a registered tile by UUID, or nil.
func (s *Simulator) Tile(id uuid.UUID) *Tile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiles[id]
}

// syntheticAddress derives a stable MAC-style address from the UUID.
func syntheticAddress(id uuid.UUID) string {
	buf := make([]byte, 0, 17)
	for i := 0; i < 6; i++ {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, hex.EncodeToString(id[i:i+1])...)
	}
	return string(buf)
}

// Scan implements gatt.Scanner. Hidden tiles are omitted.
func (s *Simulator) Scan(ctx context.Context, timeout time.Duration) ([]gatt.Advertisement, error) {
	if s.ScanDelay > 0 {
		select {
		case <-time.After(s.ScanDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var results []gatt.Advertisement
	for _, t := range s.tiles {
		if t.Faults.Hidden {
			continue
		}
		results = append(results, gatt.Advertisement{
			TileUUID: t.UUID,
			Address:  t.Address,
			RSSI:     t.RSSI,
		})
	}
	return results, nil
}

// Connect implements gatt.Connector.
func (s *Simulator) Connect(ctx context.Context, address string) (gatt.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tiles {
		if t.Address != address {
			continue
		}
		t.mu.Lock()
		t.connects++
		t.mu.Unlock()
		if t.Faults.RefuseConnect {
			return nil, tileerr.New(tileerr.KindHandshakeIO, "tile at %s refused connection", address)
		}
		if t.Faults.ConnectFailures > 0 {
			t.Faults.ConnectFailures--
			return nil, tileerr.New(tileerr.KindHandshakeIO, "tile at %s dropped connection", address)
		}
		return newConn(t), nil
	}
	return nil, tileerr.New(tileerr.KindHandshakeIO, "no tile at %s", address)
}

// DeviceSecret implements gatt.SecretStore. The simulator doubles as the
// credential source: tiles it knows are tiles the host has synced.
func (s *Simulator) DeviceSecret(tileUUID uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tiles[tileUUID]
	if !ok || len(t.Secret) == 0 {
		return nil, tileerr.New(tileerr.KindNoSecret, "no secret for tile %s", tileUUID)
	}
	return t.Secret, nil
}

// conn is one open connection to a simulated tile. It runs the device side
// of the handshake and command protocol synchronously inside the host's
// characteristic writes.
type conn struct {
	tile *Tile

	mu            sync.Mutex
	closed        bool
	closeOnce     sync.Once
	notifications chan []byte

	randT []byte
	key   *tilecrypto.SessionKey
}

func newConn(t *Tile) *conn {
	return &conn{
		tile:          t,
		notifications: make(chan []byte, 16),
	}
}

var (
	_ gatt.Connection  = (*conn)(nil)
	_ gatt.Scanner     = (*Simulator)(nil)
	_ gatt.Connector   = (*Simulator)(nil)
	_ gatt.SecretStore = (*Simulator)(nil)
)

// ReadCharacteristic serves the tile device information characteristic.
func (c *conn) ReadCharacteristic(ctx context.Context, char string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, tileerr.New(tileerr.KindHandshakeIO, "connection closed")
	}
	if char != gatt.CharDeviceInfo {
		return nil, tileerr.New(tileerr.KindHandshakeIO, "unreadable characteristic %s", char)
	}
	return toa.EncodeDeviceInfo(&toa.DeviceInfo{
		TileID:   c.tile.TileID,
		Model:    c.tile.Model,
		Firmware: c.tile.Firmware,
	})
}

// WriteCharacteristic drives the device-side protocol: a raw nonce write
// before authentication, signed frames after.
func (c *conn) WriteCharacteristic(ctx context.Context, char string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return tileerr.New(tileerr.KindHandshakeIO, "connection closed")
	}
	if char != gatt.CharToaCommand {
		return tileerr.New(tileerr.KindHandshakeIO, "unwritable characteristic %s", char)
	}

	if c.key == nil && len(data) == tilecrypto.NonceSize {
		return c.handleNonce(data)
	}
	return c.handleFrame(data)
}

// handleNonce answers the host nonce with RandT and derives the device's
// copy of the session key.
func (c *conn) handleNonce(randA []byte) error {
	if c.tile.Faults.DropRandT {
		return nil
	}

	randT, err := tilecrypto.NewNonce()
	if err != nil {
		return err
	}
	c.randT = randT

	secret := c.tile.Secret
	if c.tile.Faults.WrongSecret {
		secret = append([]byte("stale:"), secret...)
	}
	key, err := tilecrypto.DeriveSessionKey(secret, randA, randT)
	if err != nil {
		return err
	}
	c.key = key

	if c.tile.Faults.ShortRandT {
		c.notify(randT[:tilecrypto.NonceSize/2])
		return nil
	}
	c.notify(randT)
	return nil
}

// handleFrame verifies and dispatches a signed frame. Like real hardware,
// the tile stays silent on a bad tag.
func (c *conn) handleFrame(data []byte) error {
	if c.key == nil {
		return nil
	}
	frame, err := toa.VerifyFrame(c.key, data)
	if err != nil {
		return nil
	}

	switch frame.Opcode {
	case toa.OpOpenChannel:
		c.handleOpen(frame)
	case toa.OpRing:
		c.handleRing(frame)
	case toa.OpSetVolume:
		c.handleSetVolume(frame)
	case toa.OpStop:
		c.tile.mu.Lock()
		c.tile.ringing = false
		c.tile.mu.Unlock()
		c.ack(frame, toa.StatusSuccess)
	default:
		c.reply(toa.OpError, []byte{byte(toa.StatusInvalidCommand)}, frame.Counter)
	}
	return nil
}

func (c *conn) handleOpen(frame *toa.Frame) {
	if c.tile.Faults.IgnoreOpen {
		return
	}
	if c.tile.Faults.RefuseOpen {
		c.reply(toa.OpError, []byte{byte(toa.StatusNotAuthorized)}, frame.Counter)
		return
	}
	c.reply(toa.OpReady, nil, frame.Counter)
}

func (c *conn) handleRing(frame *toa.Frame) {
	if c.dropAck() {
		return
	}
	if len(frame.Payload) < 2 {
		c.ack(frame, toa.StatusInvalidCommand)
		return
	}
	c.tile.mu.Lock()
	c.tile.ringing = true
	c.tile.volume = toa.Volume(frame.Payload[0])
	c.tile.mu.Unlock()
	c.ack(frame, toa.StatusSuccess)
}

func (c *conn) handleSetVolume(frame *toa.Frame) {
	if c.dropAck() {
		return
	}
	if len(frame.Payload) != 1 {
		c.ack(frame, toa.StatusInvalidCommand)
		return
	}
	c.tile.mu.Lock()
	c.tile.volume = toa.Volume(frame.Payload[0])
	c.tile.mu.Unlock()
	c.ack(frame, toa.StatusSuccess)
}

func (c *conn) dropAck() bool {
	c.tile.mu.Lock()
	defer c.tile.mu.Unlock()
	if c.tile.Faults.DropAcks > 0 {
		c.tile.Faults.DropAcks--
		return true
	}
	return false
}

func (c *conn) ack(frame *toa.Frame, status toa.Status) {
	data, err := toa.EncodeFrame(c.key, toa.OpAck, toa.EncodeAckPayload(frame.Opcode, status), frame.Counter)
	if err != nil {
		return
	}
	if c.corruptAck() {
		data[len(data)-1] ^= 0xFF
	}
	c.notify(data)
}

func (c *conn) corruptAck() bool {
	c.tile.mu.Lock()
	defer c.tile.mu.Unlock()
	if c.tile.Faults.CorruptAcks > 0 {
		c.tile.Faults.CorruptAcks--
		return true
	}
	return false
}

func (c *conn) reply(opcode toa.Opcode, payload []byte, counter uint32) {
	data, err := toa.EncodeFrame(c.key, opcode, payload, counter)
	if err != nil {
		return
	}
	c.notify(data)
}

func (c *conn) notify(data []byte) {
	select {
	case c.notifications <- data:
	default:
		// Notification queue full; a real stack drops these too.
	}
}

// Subscribe implements gatt.Connection.
func (c *conn) Subscribe(ctx context.Context, char string) (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, tileerr.New(tileerr.KindHandshakeIO, "connection closed")
	}
	if char != gatt.CharToaResponse {
		return nil, tileerr.New(tileerr.KindHandshakeIO, "non-notifying characteristic %s", char)
	}
	return c.notifications, nil
}

// Close implements gatt.Connection. Safe to call more than once.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.key != nil {
			c.key.Zero()
		}
		close(c.notifications)
		c.mu.Unlock()
	})
	return nil
}
