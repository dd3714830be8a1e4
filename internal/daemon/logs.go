package daemon

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"go.olrik.dev/dawnhost/internal/events"
)

// LogLevel maps the -v count to a slog level
func LogLevel(verbose int) slog.Level {
	if verbose > 0 {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// NewLogHandler creates the tint handler used by both the daemon and the
// CLI. Colour is only used when w is a terminal.
func NewLogHandler(w io.Writer, level slog.Level) slog.Handler {
	return newTintHandler(w, isTerminal(w), level)
}

// newTintHandler builds the one tint configuration shared by every output
func newTintHandler(w io.Writer, color bool, level slog.Level) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !color,
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// setupLogging tees the daemon's log output onto the bus so clients can
// follow it with LOGS. Colour follows stderr, so LOGS clients see the same
// lines as the terminal.
func (d *Daemon) setupLogging() {
	multiWriter := io.MultiWriter(os.Stderr, d.bus.Writer(events.TopicLog))
	handler := newTintHandler(multiWriter, isTerminal(os.Stderr), LogLevel(d.cfg.Verbose))
	slog.SetDefault(slog.New(handler))
}

// handleLogs streams daemon log lines to the client until it disconnects
// or the daemon shuts down
func (d *Daemon) handleLogs(conn net.Conn, historyLines int) {
	ch, history := d.bus.SubscribeWithHistory(events.TopicLog, historyLines)
	defer d.bus.Unsubscribe(events.TopicLog, ch)

	for _, ev := range history {
		if _, err := conn.Write(logLine(ev)); err != nil {
			return
		}
	}

	// The client never sends anything after the command, so EOF means it left
	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, bufio.NewReader(conn))
		close(done)
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if _, err := conn.Write(logLine(ev)); err != nil {
				return
			}
		case <-done:
			return
		case <-d.ctx.Done():
			return
		}
	}
}

// logLine extracts the formatted log line from a log topic event
func logLine(ev events.Event) []byte {
	var line string
	if err := json.Unmarshal(ev.Payload, &line); err != nil {
		return append([]byte(ev.Payload), '\n')
	}
	return []byte(line)
}
