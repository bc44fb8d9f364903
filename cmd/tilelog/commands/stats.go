package commands

import (
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/tile-protocol/tile-go/pkg/log"
)

// fileStats aggregates statistics over one log file.
type fileStats struct {
	TotalEvents int
	ByLayer     map[log.Layer]int
	ByCategory  map[log.Category]int
	ByDirection map[log.Direction]int
	Sessions    map[string]*sessionStats
	Errors      int
	Start       time.Time
	End         time.Time
}

// sessionStats aggregates per-session statistics.
type sessionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	TileID    string
	Errors    int
}

// Stats analyzes a log file and prints aggregate statistics.
func Stats(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tilelog stats <file.tlog>")
	}

	reader, err := log.NewReader(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer reader.Close()

	stats := &fileStats{
		ByLayer:     make(map[log.Layer]int),
		ByCategory:  make(map[log.Category]int),
		ByDirection: make(map[log.Direction]int),
		Sessions:    make(map[string]*sessionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		stats.add(event)
	}

	stats.print(w)
	return nil
}

func (s *fileStats) add(event log.Event) {
	s.TotalEvents++
	s.ByLayer[event.Layer]++
	s.ByCategory[event.Category]++
	s.ByDirection[event.Direction]++
	if event.Category == log.CategoryError {
		s.Errors++
	}

	if s.Start.IsZero() || event.Timestamp.Before(s.Start) {
		s.Start = event.Timestamp
	}
	if event.Timestamp.After(s.End) {
		s.End = event.Timestamp
	}

	sess, ok := s.Sessions[event.SessionID]
	if !ok {
		sess = &sessionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Sessions[event.SessionID] = sess
	}
	sess.Events++
	if event.Timestamp.Before(sess.FirstSeen) {
		sess.FirstSeen = event.Timestamp
	}
	if event.Timestamp.After(sess.LastSeen) {
		sess.LastSeen = event.Timestamp
	}
	if event.TileID != "" {
		sess.TileID = event.TileID
	}
	if event.Category == log.CategoryError {
		sess.Errors++
	}
}

func (s *fileStats) print(w io.Writer) {
	fmt.Fprintf(w, "Total events: %d\n", s.TotalEvents)
	if s.TotalEvents == 0 {
		return
	}

	fmt.Fprintf(w, "Time range:   %s .. %s (%s)\n",
		s.Start.UTC().Format(time.RFC3339),
		s.End.UTC().Format(time.RFC3339),
		s.End.Sub(s.Start).Round(time.Millisecond))
	fmt.Fprintf(w, "Errors:       %d\n\n", s.Errors)

	fmt.Fprintln(w, "By layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerProtocol, log.LayerSession} {
		if n := s.ByLayer[layer]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", layer, n)
		}
	}

	fmt.Fprintln(w, "By category:")
	for _, cat := range []log.Category{log.CategoryFrame, log.CategoryState, log.CategoryError} {
		if n := s.ByCategory[cat]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", cat, n)
		}
	}

	fmt.Fprintln(w, "By direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if n := s.ByDirection[dir]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", dir, n)
		}
	}

	ids := make([]string, 0, len(s.Sessions))
	for id := range s.Sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.Sessions[ids[i]].FirstSeen.Before(s.Sessions[ids[j]].FirstSeen)
	})

	fmt.Fprintf(w, "\nSessions: %d\n", len(ids))
	for _, id := range ids {
		sess := s.Sessions[id]
		fmt.Fprintf(w, "  %s  events=%-4d errors=%-2d duration=%s",
			shortenID(id), sess.Events, sess.Errors,
			sess.LastSeen.Sub(sess.FirstSeen).Round(time.Millisecond))
		if sess.TileID != "" {
			fmt.Fprintf(w, " tile=%s", sess.TileID)
		}
		fmt.Fprintln(w)
	}
}
