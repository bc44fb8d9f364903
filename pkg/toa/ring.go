package toa

import (
	"github.com/tile-protocol/tile-go/pkg/tileerr"
)

// Volume is the sounder volume level for ring commands.
type Volume uint8

const (
	// VolumeLow is the quietest sounder setting.
	VolumeLow Volume = 1

	// VolumeMedium is the default sounder setting.
	VolumeMedium Volume = 2

	// VolumeHigh is the loudest sounder setting.
	VolumeHigh Volume = 3
)

// String returns the volume name.
func (v Volume) String() string {
	switch v {
	case VolumeLow:
		return "low"
	case VolumeMedium:
		return "medium"
	case VolumeHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseVolume parses a volume name ("low", "medium", "high").
func ParseVolume(s string) (Volume, error) {
	switch s {
	case "low":
		return VolumeLow, nil
	case "medium":
		return VolumeMedium, nil
	case "high":
		return VolumeHigh, nil
	default:
		return 0, tileerr.New(tileerr.KindInvalidParameter, "unknown volume %q", s)
	}
}

// Ring command limits fixed by the hardware.
const (
	// MinRingDuration is the shortest ring duration in seconds.
	MinRingDuration = 1

	// MaxRingDuration is the longest ring duration in seconds.
	MaxRingDuration = 30

	// MaxSongID is the highest valid song identifier.
	MaxSongID = 0x1F
)

// RingParams are the caller-supplied parameters for a ring command.
type RingParams struct {
	// Volume selects the sounder level.
	Volume Volume

	// DurationSeconds is the ring duration (1-30).
	DurationSeconds int

	// SongID optionally selects a melody. Nil plays the default.
	SongID *uint8
}

// Validate rejects out-of-range parameters before any transport I/O.
// No partial frame is ever sent for invalid input.
func (p RingParams) Validate() error {
	switch p.Volume {
	case VolumeLow, VolumeMedium, VolumeHigh:
	default:
		return tileerr.New(tileerr.KindInvalidParameter, "unknown volume %d", p.Volume)
	}
	if p.DurationSeconds < MinRingDuration || p.DurationSeconds > MaxRingDuration {
		return tileerr.New(tileerr.KindInvalidParameter,
			"duration %ds out of range [%d,%d]", p.DurationSeconds, MinRingDuration, MaxRingDuration)
	}
	if p.SongID != nil && *p.SongID > MaxSongID {
		return tileerr.New(tileerr.KindInvalidParameter,
			"song ID %d out of range [0,%d]", *p.SongID, MaxSongID)
	}
	return nil
}

// Payload builds the ring command payload. Validate must have succeeded.
func (p RingParams) Payload() []byte {
	payload := []byte{byte(p.Volume), byte(p.DurationSeconds)}
	if p.SongID != nil {
		payload = append(payload, *p.SongID)
	}
	return payload
}

// VolumePayload builds a set-volume command payload.
func VolumePayload(v Volume) []byte {
	return []byte{byte(v)}
}
