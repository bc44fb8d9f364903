package toa

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/cryptobyte"

	"github.com/tile-protocol/tile-go/pkg/tileerr"
)

// TDI response layout, fixed by the hardware: 8-byte tile ID, 10-byte
// model, 10-byte firmware version. Text fields are ASCII, space padded.
const (
	TileIDSize        = 8
	ModelFieldSize    = 10
	FirmwareFieldSize = 10

	// DeviceInfoSize is the exact size of a TDI response.
	DeviceInfoSize = TileIDSize + ModelFieldSize + FirmwareFieldSize
)

// DeviceInfo is the decoded TDI characteristic value.
type DeviceInfo struct {
	// TileID is the hardware tile identifier, hex encoded.
	TileID string

	// Model is the hardware model name (e.g. "DUTCH1").
	Model string

	// Firmware is the firmware version string.
	Firmware string
}

// ParseDeviceInfo decodes a TDI response. A response of the wrong size or
// with non-printable text fields is a protocol violation.
func ParseDeviceInfo(data []byte) (*DeviceInfo, error) {
	if len(data) != DeviceInfoSize {
		return nil, tileerr.New(tileerr.KindProtocolViolation,
			"device info %d bytes, want %d", len(data), DeviceInfoSize)
	}

	s := cryptobyte.String(data)
	var id, model, firmware []byte
	if !s.ReadBytes(&id, TileIDSize) ||
		!s.ReadBytes(&model, ModelFieldSize) ||
		!s.ReadBytes(&firmware, FirmwareFieldSize) ||
		!s.Empty() {
		return nil, tileerr.New(tileerr.KindProtocolViolation, "malformed device info")
	}

	info := &DeviceInfo{
		TileID:   hex.EncodeToString(id),
		Model:    strings.TrimRight(string(model), " "),
		Firmware: strings.TrimRight(string(firmware), " "),
	}

	if !isPrintableASCII(info.Model) || !isPrintableASCII(info.Firmware) {
		return nil, tileerr.New(tileerr.KindProtocolViolation,
			"non-printable device info text fields")
	}
	return info, nil
}

// EncodeDeviceInfo builds a TDI response. Used by the device side
// (simulator) and tests.
func EncodeDeviceInfo(info *DeviceInfo) ([]byte, error) {
	id, err := hex.DecodeString(info.TileID)
	if err != nil || len(id) != TileIDSize {
		return nil, tileerr.New(tileerr.KindInvalidParameter,
			"tile ID must be %d hex-encoded bytes", TileIDSize)
	}
	if len(info.Model) > ModelFieldSize || len(info.Firmware) > FirmwareFieldSize {
		return nil, tileerr.New(tileerr.KindInvalidParameter,
			"model or firmware field too long")
	}

	buf := make([]byte, 0, DeviceInfoSize)
	buf = append(buf, id...)
	buf = appendPadded(buf, info.Model, ModelFieldSize)
	buf = appendPadded(buf, info.Firmware, FirmwareFieldSize)
	return buf, nil
}

func appendPadded(buf []byte, s string, size int) []byte {
	buf = append(buf, s...)
	for i := len(s); i < size; i++ {
		buf = append(buf, ' ')
	}
	return buf
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}
