// Package interactive provides the interactive command shell for tilectl.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/tile-protocol/tile-go/pkg/gatt"
	"github.com/tile-protocol/tile-go/pkg/session"
	"github.com/tile-protocol/tile-go/pkg/toa"
)

// commandTimeout bounds one interactive command end to end, retries included.
const commandTimeout = 60 * time.Second

// Shell handles interactive mode for tilectl.
type Shell struct {
	orch *session.Orchestrator
	rl   *readline.Instance

	// tiles is the last scan result, indexed by the numbers shown to the
	// user so commands can say "ring 1" instead of a UUID.
	tiles []gatt.Advertisement
}

// New creates the interactive shell.
func New(orch *session.Orchestrator) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tile> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{orch: orch, rl: rl}, nil
}

// Stdout returns a writer that coordinates with the readline prompt. Use
// this for log output to avoid mangling the input line.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "scan", "s":
			s.cmdScan(ctx, args, false)

		case "refresh":
			s.cmdScan(ctx, nil, true)

		case "list", "l":
			s.printTiles()

		case "ring", "r":
			s.cmdRing(ctx, args)

		case "volume", "v":
			s.cmdVolume(ctx, args)

		case "stop":
			s.cmdStop(ctx, args)

		case "clear":
			s.orch.ClearCache()
			fmt.Fprintln(s.rl.Stdout(), "Discovery cache cleared")

		case "quit", "q", "exit":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (try 'help')\n", cmd)
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.rl.Stdout(), `Commands:
  scan [seconds]               Scan for tiles (cached when fresh)
  refresh                      Force a fresh scan
  list                         List tiles from the last scan
  ring <n> [volume] [seconds]  Ring tile n (volume: low, medium, high)
  volume <n> <low|medium|high> Set tile sounder volume
  stop <n>                     Silence tile n
  clear                        Clear the discovery cache
  quit                         Exit
`)
}

func (s *Shell) cmdScan(ctx context.Context, args []string, force bool) {
	var timeout time.Duration
	if len(args) > 0 {
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs <= 0 {
			fmt.Fprintf(s.rl.Stdout(), "Invalid scan timeout: %s\n", args[0])
			return
		}
		timeout = time.Duration(secs) * time.Second
	}

	opCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	results, err := s.orch.ScanTiles(opCtx, timeout, force)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Scan failed: %v\n", err)
		return
	}
	s.tiles = results
	s.printTiles()
}

func (s *Shell) printTiles() {
	if len(s.tiles) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "No tiles known; try 'scan'")
		return
	}
	for i, adv := range s.tiles {
		fmt.Fprintf(s.rl.Stdout(), "  %d) %s  %s  %d dBm\n", i+1, adv.TileUUID, adv.Address, adv.RSSI)
	}
}

func (s *Shell) cmdRing(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: ring <n> [volume] [seconds]")
		return
	}
	tileUUID, ok := s.pickTile(args[0])
	if !ok {
		return
	}

	params := toa.RingParams{Volume: toa.VolumeMedium, DurationSeconds: 5}
	if len(args) > 1 {
		v, err := toa.ParseVolume(args[1])
		if err != nil {
			fmt.Fprintf(s.rl.Stdout(), "Invalid volume: %s (use low, medium, high)\n", args[1])
			return
		}
		params.Volume = v
	}
	if len(args) > 2 {
		secs, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(s.rl.Stdout(), "Invalid duration: %s\n", args[2])
			return
		}
		params.DurationSeconds = secs
	}

	opCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	ack, err := s.orch.Ring(opCtx, tileUUID, params)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Ring failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Ringing %s (%s, %ds): %s\n",
		tileUUID, params.Volume, params.DurationSeconds, ack.Status)
}

func (s *Shell) cmdVolume(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: volume <n> <low|medium|high>")
		return
	}
	tileUUID, ok := s.pickTile(args[0])
	if !ok {
		return
	}
	v, err := toa.ParseVolume(args[1])
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Invalid volume: %s (use low, medium, high)\n", args[1])
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if _, err := s.orch.SetVolume(opCtx, tileUUID, v); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Set volume failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Volume on %s set to %s\n", tileUUID, v)
}

func (s *Shell) cmdStop(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: stop <n>")
		return
	}
	tileUUID, ok := s.pickTile(args[0])
	if !ok {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if _, err := s.orch.Stop(opCtx, tileUUID); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Stop failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Stopped %s\n", tileUUID)
}

// pickTile resolves a user argument to a tile UUID: either an index into
// the last scan or a full UUID.
func (s *Shell) pickTile(arg string) (uuid.UUID, bool) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(s.tiles) {
			fmt.Fprintf(s.rl.Stdout(), "No tile %d; try 'scan' first\n", n)
			return uuid.UUID{}, false
		}
		return s.tiles[n-1].TileUUID, true
	}
	id, err := uuid.Parse(arg)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Not a tile number or UUID: %s\n", arg)
		return uuid.UUID{}, false
	}
	return id, true
}
