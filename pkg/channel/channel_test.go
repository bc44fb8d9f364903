package channel

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tile-protocol/tile-go/pkg/gatt"
	"github.com/tile-protocol/tile-go/pkg/tilecrypto"
	"github.com/tile-protocol/tile-go/pkg/tileerr"
	"github.com/tile-protocol/tile-go/pkg/toa"
)

// fakeDevice is the tile side of an already-authenticated channel. It
// verifies incoming frames with its own copy of the session key and
// answers over the notification channel. Scripted faults model lost acks
// and misbehaving peers.
type fakeDevice struct {
	key           *tilecrypto.SessionKey
	notifications chan []byte

	// Scripted faults.
	dropAcks    int        // swallow this many writes before answering
	busyAcks    int        // answer BUSY this many times before success
	status      toa.Status // answer with this status (default success)
	corruptTag  bool       // answer with a frame signed by the wrong key
	ackOpcode   toa.Opcode // acknowledge this opcode instead of the sent one
	replyOpcode toa.Opcode // answer with this frame type instead of ACK

	// Observed traffic.
	frames []toa.Frame
}

func sessionKeys(t *testing.T) (*tilecrypto.SessionKey, *tilecrypto.SessionKey) {
	t.Helper()
	secret := bytes.Repeat([]byte{0x42}, 16)
	randA := bytes.Repeat([]byte{0x01}, tilecrypto.NonceSize)
	randT := bytes.Repeat([]byte{0x02}, tilecrypto.NonceSize)

	host, err := tilecrypto.DeriveSessionKey(secret, randA, randT)
	if err != nil {
		t.Fatalf("derive host key: %v", err)
	}
	device, err := tilecrypto.DeriveSessionKey(secret, randA, randT)
	if err != nil {
		t.Fatalf("derive device key: %v", err)
	}
	return host, device
}

func newFakeDevice(key *tilecrypto.SessionKey) *fakeDevice {
	return &fakeDevice{
		key:           key,
		notifications: make(chan []byte, 8),
	}
}

func (f *fakeDevice) ReadCharacteristic(ctx context.Context, char string) ([]byte, error) {
	return nil, errors.New("unexpected read")
}

func (f *fakeDevice) WriteCharacteristic(ctx context.Context, char string, data []byte) error {
	if char != gatt.CharToaCommand {
		return errors.New("write to unexpected characteristic")
	}
	frame, err := toa.VerifyFrame(f.key, data)
	if err != nil {
		// A real tile stays silent on a bad tag.
		return nil
	}
	f.frames = append(f.frames, *frame)

	if f.dropAcks > 0 {
		f.dropAcks--
		return nil
	}
	f.respond(frame)
	return nil
}

func (f *fakeDevice) respond(frame *toa.Frame) {
	replyKey := f.key
	if f.corruptTag {
		wrong, _ := tilecrypto.DeriveSessionKey([]byte("wrong secret"),
			bytes.Repeat([]byte{0xaa}, tilecrypto.NonceSize),
			bytes.Repeat([]byte{0xbb}, tilecrypto.NonceSize))
		replyKey = wrong
	}

	opcode := toa.OpAck
	payload := toa.EncodeAckPayload(frame.Opcode, toa.StatusSuccess)
	switch {
	case f.busyAcks > 0:
		f.busyAcks--
		payload = toa.EncodeAckPayload(frame.Opcode, toa.StatusBusy)
	case f.replyOpcode != 0:
		opcode = f.replyOpcode
		payload = nil
	case f.ackOpcode != 0:
		payload = toa.EncodeAckPayload(f.ackOpcode, toa.StatusSuccess)
	case f.status != toa.StatusSuccess:
		payload = toa.EncodeAckPayload(frame.Opcode, f.status)
	}

	reply, _ := toa.EncodeFrame(replyKey, opcode, payload, frame.Counter)
	f.notifications <- reply
}

func (f *fakeDevice) Subscribe(ctx context.Context, char string) (<-chan []byte, error) {
	return f.notifications, nil
}

func (f *fakeDevice) Close() error { return nil }

var _ gatt.Connection = (*fakeDevice)(nil)

func newTestChannel(t *testing.T, device *fakeDevice, hostKey *tilecrypto.SessionKey) *Channel {
	t.Helper()
	return New(device, hostKey, device.notifications, Options{
		AckTimeout: 50 * time.Millisecond,
	})
}

func TestChannelRing(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	ack, err := ch.Ring(context.Background(), toa.RingParams{
		Volume:          toa.VolumeHigh,
		DurationSeconds: 5,
	})
	if err != nil {
		t.Fatalf("ring: %v", err)
	}
	if ack.Acked != toa.OpRing || !ack.Status.IsSuccess() {
		t.Fatalf("ack = %+v, want successful RING ack", ack)
	}

	if len(device.frames) != 1 {
		t.Fatalf("device saw %d frames, want 1", len(device.frames))
	}
	got := device.frames[0]
	if got.Opcode != toa.OpRing {
		t.Errorf("opcode = %s, want RING", got.Opcode)
	}
	if got.Counter != 1 {
		t.Errorf("counter = %d, want 1 (0 belongs to the channel open)", got.Counter)
	}
	want := []byte{byte(toa.VolumeHigh), 5}
	if !bytes.Equal(got.Payload, want) {
		t.Errorf("payload = %x, want %x", got.Payload, want)
	}
}

func TestChannelCounterAdvances(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	ctx := context.Background()
	if _, err := ch.Stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if _, err := ch.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if device.frames[0].Counter != 1 || device.frames[1].Counter != 2 {
		t.Fatalf("counters = %d, %d; want 1, 2",
			device.frames[0].Counter, device.frames[1].Counter)
	}
}

func TestChannelResendKeepsCounter(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	device.dropAcks = 2
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	ctx := context.Background()
	if _, err := ch.Stop(ctx); err != nil {
		t.Fatalf("stop with lost acks: %v", err)
	}

	if len(device.frames) != 3 {
		t.Fatalf("device saw %d frames, want 3 (two lost acks)", len(device.frames))
	}
	for i, frame := range device.frames {
		if frame.Counter != 1 {
			t.Errorf("re-send %d counter = %d, want 1 (idempotent)", i, frame.Counter)
		}
	}

	// The counter still advances exactly once for the whole exchange.
	if _, err := ch.Stop(ctx); err != nil {
		t.Fatalf("follow-up stop: %v", err)
	}
	if got := device.frames[len(device.frames)-1].Counter; got != 2 {
		t.Fatalf("follow-up counter = %d, want 2", got)
	}
}

func TestChannelResendExhausted(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	device.dropAcks = 100
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	_, err := ch.Stop(context.Background())
	if !tileerr.IsKind(err, tileerr.KindTimeout) {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}
	if len(device.frames) != DefaultResendLimit+1 {
		t.Fatalf("device saw %d frames, want %d", len(device.frames), DefaultResendLimit+1)
	}
}

func TestChannelTagMismatchFatal(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	device.corruptTag = true
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	ctx := context.Background()
	_, err := ch.Stop(ctx)
	if !tileerr.IsKind(err, tileerr.KindTagMismatch) {
		t.Fatalf("err = %v, want TAG_MISMATCH", err)
	}
	if tileerr.IsRetryable(err) {
		t.Fatal("tag mismatch must not be retryable")
	}

	// The channel is dead; only a re-handshake may continue.
	_, err = ch.Stop(ctx)
	if !tileerr.IsKind(err, tileerr.KindNotAuthenticated) {
		t.Fatalf("send after tag mismatch = %v, want NOT_AUTHENTICATED", err)
	}
}

func TestChannelBusyThenSuccess(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	device.busyAcks = 1
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	if _, err := ch.Stop(context.Background()); err != nil {
		t.Fatalf("stop after transient busy: %v", err)
	}
	if len(device.frames) != 2 {
		t.Fatalf("device saw %d frames, want 2 (busy then success)", len(device.frames))
	}
	if device.frames[0].Counter != device.frames[1].Counter {
		t.Fatal("busy retry must reuse the same counter")
	}
}

func TestChannelNotAuthorized(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	device.status = toa.StatusNotAuthorized
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	_, err := ch.Stop(context.Background())
	if !tileerr.IsKind(err, tileerr.KindAuthRejected) {
		t.Fatalf("err = %v, want AUTH_REJECTED", err)
	}
	if len(device.frames) != 1 {
		t.Fatalf("device saw %d frames, want 1 (no retry on rejection)", len(device.frames))
	}
}

func TestChannelInvalidRingParams(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	cases := []toa.RingParams{
		{Volume: toa.VolumeHigh, DurationSeconds: 0},
		{Volume: toa.VolumeHigh, DurationSeconds: 31},
		{Volume: 0, DurationSeconds: 5},
		{Volume: toa.VolumeLow, DurationSeconds: 5, SongID: func() *uint8 { v := uint8(0x20); return &v }()},
	}
	for _, params := range cases {
		_, err := ch.Ring(context.Background(), params)
		if !tileerr.IsKind(err, tileerr.KindInvalidParameter) {
			t.Errorf("ring(%+v) = %v, want INVALID_PARAMETER", params, err)
		}
	}
	if len(device.frames) != 0 {
		t.Fatalf("device saw %d frames, want 0 (validation precedes I/O)", len(device.frames))
	}
}

func TestChannelSetVolume(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	if _, err := ch.SetVolume(context.Background(), toa.VolumeMedium); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	got := device.frames[0]
	if got.Opcode != toa.OpSetVolume || !bytes.Equal(got.Payload, []byte{byte(toa.VolumeMedium)}) {
		t.Fatalf("frame = %+v, want SET_VOLUME medium", got)
	}

	if _, err := ch.SetVolume(context.Background(), toa.Volume(9)); !tileerr.IsKind(err, tileerr.KindInvalidParameter) {
		t.Fatalf("set volume 9 = %v, want INVALID_PARAMETER", err)
	}
}

func TestChannelWrongAckOpcode(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	device.ackOpcode = toa.OpRing
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	_, err := ch.Stop(context.Background())
	if !tileerr.IsKind(err, tileerr.KindProtocolViolation) {
		t.Fatalf("err = %v, want PROTOCOL_VIOLATION", err)
	}
}

func TestChannelUnexpectedFrame(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	device.replyOpcode = toa.OpReady
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	_, err := ch.Stop(context.Background())
	if !tileerr.IsKind(err, tileerr.KindProtocolViolation) {
		t.Fatalf("err = %v, want PROTOCOL_VIOLATION", err)
	}
}

func TestChannelClosed(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	ch := newTestChannel(t, device, hostKey)
	ch.Close()

	_, err := ch.Stop(context.Background())
	if !tileerr.IsKind(err, tileerr.KindNotAuthenticated) {
		t.Fatalf("send after close = %v, want NOT_AUTHENTICATED", err)
	}
	if len(device.frames) != 0 {
		t.Fatalf("device saw %d frames after close, want 0", len(device.frames))
	}
}

func TestChannelContextCancel(t *testing.T) {
	hostKey, deviceKey := sessionKeys(t)
	device := newFakeDevice(deviceKey)
	device.dropAcks = 100
	ch := newTestChannel(t, device, hostKey)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := ch.Stop(ctx)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("send returned after %v, want prompt cancellation", elapsed)
	}
}
