package commands

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/tile-protocol/tile-go/pkg/log"
)

// jsonEvent is the JSONL export shape. Enums become their string names so
// exports are readable without this tool.
type jsonEvent struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Direction string    `json:"direction"`
	Layer     string    `json:"layer"`
	Category  string    `json:"category"`
	TileID    string    `json:"tile_id,omitempty"`
	Address   string    `json:"address,omitempty"`

	Frame       *log.FrameEvent       `json:"frame,omitempty"`
	StateChange *log.StateChangeEvent `json:"state_change,omitempty"`
	Error       *log.ErrorEventData   `json:"error,omitempty"`
}

// Export writes events as one JSON object per line.
func Export(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	buildFilter := parseFilterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tilelog export [flags] <file.tlog>")
	}
	filter, err := buildFilter()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(fs.Arg(0), filter)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer reader.Close()

	enc := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}

		if err := enc.Encode(jsonEvent{
			Timestamp:   event.Timestamp,
			SessionID:   event.SessionID,
			Direction:   event.Direction.String(),
			Layer:       event.Layer.String(),
			Category:    event.Category.String(),
			TileID:      event.TileID,
			Address:     event.Address,
			Frame:       event.Frame,
			StateChange: event.StateChange,
			Error:       event.Error,
		}); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
	}
}
