// Package commands implements the tilelog CLI commands.
package commands

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/tile-protocol/tile-go/pkg/log"
)

// parseFilterFlags registers the shared filter flags on fs and returns a
// function that builds the Filter after parsing.
func parseFilterFlags(fs *flag.FlagSet) func() (log.Filter, error) {
	session := fs.String("session", "", "Filter by session ID")
	tile := fs.String("tile", "", "Filter by tile ID")
	direction := fs.String("direction", "", "Filter by direction: in, out")
	layer := fs.String("layer", "", "Filter by layer: transport, protocol, session")
	category := fs.String("category", "", "Filter by category: frame, state, error")

	return func() (log.Filter, error) {
		filter := log.Filter{SessionID: *session, TileID: *tile}

		switch strings.ToLower(*direction) {
		case "":
		case "in":
			d := log.DirectionIn
			filter.Direction = &d
		case "out":
			d := log.DirectionOut
			filter.Direction = &d
		default:
			return filter, fmt.Errorf("unknown direction: %s (use: in, out)", *direction)
		}

		switch strings.ToLower(*layer) {
		case "":
		case "transport":
			l := log.LayerTransport
			filter.Layer = &l
		case "protocol":
			l := log.LayerProtocol
			filter.Layer = &l
		case "session":
			l := log.LayerSession
			filter.Layer = &l
		default:
			return filter, fmt.Errorf("unknown layer: %s (use: transport, protocol, session)", *layer)
		}

		switch strings.ToLower(*category) {
		case "":
		case "frame":
			c := log.CategoryFrame
			filter.Category = &c
		case "state":
			c := log.CategoryState
			filter.Category = &c
		case "error":
			c := log.CategoryError
			filter.Category = &c
		default:
			return filter, fmt.Errorf("unknown category: %s (use: frame, state, error)", *category)
		}

		return filter, nil
	}
}

// View prints events from a log file in human-readable form.
func View(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("view", flag.ContinueOnError)
	buildFilter := parseFilterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tilelog view [flags] <file.tlog>")
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

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes a human-readable representation of one event.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var typeLabel string
	switch {
	case event.Frame != nil:
		typeLabel = "Frame"
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s [sess:%s] %-3s %s %s\n",
		ts, shortenID(event.SessionID), event.Direction, event.Layer, typeLabel)

	if event.TileID != "" {
		fmt.Fprintf(w, "  Tile: %s", event.TileID)
		if event.Address != "" {
			fmt.Fprintf(w, " (%s)", event.Address)
		}
		fmt.Fprintln(w)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenID returns the first 8 characters of a session ID.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Characteristic: %s\n", frame.Characteristic)
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s: %s -> %s\n", sc.Entity, sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  %s: %s\n", sc.Entity, sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, e *log.ErrorEventData) {
	if e.Kind != "" {
		fmt.Fprintf(w, "  Kind: %s\n", e.Kind)
	}
	fmt.Fprintf(w, "  Message: %s\n", e.Message)
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}
