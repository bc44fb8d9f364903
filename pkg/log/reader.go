package log

import (
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events from a capture. Zero-valued fields match
// everything; pointer fields distinguish "any" from the zero enum value.
type Filter struct {
	// SessionID matches the session UUID exactly.
	SessionID string

	// TileID matches the tile identifier exactly.
	TileID string

	// Direction, Layer and Category match the respective enums when set.
	Direction *Direction
	Layer     *Layer
	Category  *Category

	// TimeStart (inclusive) and TimeEnd (exclusive) bound the timestamp.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

func (f *Filter) matches(ev Event) bool {
	switch {
	case f.SessionID != "" && ev.SessionID != f.SessionID:
		return false
	case f.TileID != "" && ev.TileID != f.TileID:
		return false
	case f.Direction != nil && ev.Direction != *f.Direction:
		return false
	case f.Layer != nil && ev.Layer != *f.Layer:
		return false
	case f.Category != nil && ev.Category != *f.Category:
		return false
	case f.TimeStart != nil && ev.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !ev.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

// Reader streams events out of a capture file without loading it whole.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter
}

// NewReader opens a capture file for reading all of its events.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file, yielding only matching events.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, dec: newEventDecoder(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at end of capture.
func (r *Reader) Next() (Event, error) {
	for {
		var ev Event
		if err := r.dec.Decode(&ev); err != nil {
			return Event{}, err
		}
		if r.filter.matches(ev) {
			return ev, nil
		}
	}
}

// Close closes the capture file.
func (r *Reader) Close() error {
	return r.file.Close()
}
