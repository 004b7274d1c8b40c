// Package scpi implements the line-oriented control-plane protocol: one
// session per TCP connection, each line classified as a query (trailing '?')
// or a command, dispatched first against the generic instrument command set
// and then against a device-specific Backend.
package scpi

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// Identity is the static instrument identification reported by *IDN?.
type Identity struct {
	Make     string
	Model    string
	Serial   string
	Firmware string
}

// Backend supplies the device-specific half of the protocol. The generic
// dispatcher tries its own command set first and falls through to Query and
// Command for anything it does not recognise.
type Backend interface {
	Identity() Identity
	ChannelCount() int
	SampleRates() []uint64
	SampleDepths() []uint64

	// AcquisitionStart arms the trigger; oneShot requests automatic
	// disarm after a single frame.
	AcquisitionStart(oneShot bool)
	AcquisitionForceTrigger()
	AcquisitionStop()
	TriggerArmed() bool

	// Query handles a device-specific query and reports whether it was
	// recognised. A recognised query's reply is sent verbatim.
	Query(cmd string) (reply string, ok bool)

	// Command handles a device-specific command and reports whether it
	// was recognised.
	Command(cmd string, args []string) bool
}

// Configuration commands the generic dispatcher accepts without effect.
// This device class has a single always-on spectral channel and an
// edge-only trigger, so channel, coupling, sampling and trigger shaping
// commands have nothing to do.
var noopCommands = map[string]bool{
	"ON":     true,
	"OFF":    true,
	"COUP":   true,
	"RANGE":  true,
	"OFFS":   true,
	"THRESH": true,
	"HYS":    true,
	"RATE":   true,
	"DEPTH":  true,
	"BITS":   true,
	"DELAY":  true,
	"SOU":    true,
	"LEV":    true,
	"EDGE":   true,
	"DIR":    true,
}

// Session serves the control-plane protocol on one connection.
type Session struct {
	conn    net.Conn
	backend Backend
	log     *slog.Logger
}

// NewSession wraps an accepted control connection.
func NewSession(conn net.Conn, backend Backend, log *slog.Logger) *Session {
	return &Session{conn: conn, backend: backend, log: log}
}

// Run consumes lines until the client disconnects or ctx is cancelled.
// Cancellation closes the connection to unblock the read loop.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.dispatch(line)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// dispatch parses "subject:cmd args..." and routes it. The subject (channel
// number or TRIG prefix) is irrelevant here: the device has one channel.
func (s *Session) dispatch(line string) {
	fields := strings.Fields(line)
	head := fields[0]
	args := fields[1:]

	if query := strings.HasSuffix(head, "?"); query {
		s.dispatchQuery(line, command(strings.TrimSuffix(head, "?")))
		return
	}
	s.dispatchCommand(line, command(head), args)
}

// command extracts the final command word from a possibly subject-prefixed
// head, e.g. "1:RANGE" -> "RANGE", ":TRIG:EDGE:DIR" -> "DIR".
func command(head string) string {
	head = strings.TrimPrefix(head, ":")
	segs := strings.Split(head, ":")
	return segs[len(segs)-1]
}

func (s *Session) dispatchQuery(line, cmd string) {
	switch cmd {
	case "*IDN":
		id := s.backend.Identity()
		s.sendReply(fmt.Sprintf("%s,%s,%s,%s", id.Make, id.Model, id.Serial, id.Firmware))
	case "CHANS":
		s.sendReply(fmt.Sprintf("%d", s.backend.ChannelCount()))
	case "RATES":
		s.sendReply(formatList(s.backend.SampleRates()))
	case "DEPTHS":
		s.sendReply(formatList(s.backend.SampleDepths()))
	case "ARMED":
		if s.backend.TriggerArmed() {
			s.sendReply("1")
		} else {
			s.sendReply("0")
		}
	default:
		if reply, ok := s.backend.Query(cmd); ok {
			s.sendReply(reply)
			return
		}
		// No reply for unknown queries; the client is expected to
		// know the command set for this bridge.
		s.log.Debug("unrecognized query", "line", line)
	}
}

func (s *Session) dispatchCommand(line, cmd string, args []string) {
	switch cmd {
	case "START":
		s.backend.AcquisitionStart(false)
	case "SINGLE":
		s.backend.AcquisitionStart(true)
	case "FORCE":
		s.backend.AcquisitionForceTrigger()
	case "STOP":
		s.backend.AcquisitionStop()
	default:
		if noopCommands[cmd] {
			s.log.Debug("ignoring configuration command", "line", line)
			return
		}
		if s.backend.Command(cmd, args) {
			return
		}
		s.log.Error("unrecognized command", "line", line)
	}
}

func (s *Session) sendReply(reply string) {
	if _, err := fmt.Fprintf(s.conn, "%s\n", reply); err != nil {
		s.log.Debug("reply write failed", "error", err)
	}
}

func formatList(values []uint64) string {
	var b strings.Builder
	for _, v := range values {
		fmt.Fprintf(&b, "%d,", v)
	}
	return b.String()
}
