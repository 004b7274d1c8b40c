package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"net"
	"time"

	"github.com/openspectro/specbridge/internal/aseq"
)

// armedPollInterval is how often the streamer re-checks the trigger flag
// while disarmed. The poll deliberately holds no lock.
const armedPollInterval = time.Millisecond

// acceptPollInterval bounds how long an Accept call can outlive its
// context.
const acceptPollInterval = 250 * time.Millisecond

// Streamer is the data plane for one control session: it accepts a single
// client on the waveform listener, then repeatedly waits for the trigger,
// runs an acquisition and pushes the frame as raw little-endian float32
// samples, one per pixel, with no framing header.
type Streamer struct {
	state     *State
	pixels    int
	frameSize int
	log       *slog.Logger
}

// NewStreamer builds a streamer over the shared state. frameSize is the raw
// device frame length as reported by SetFrameFormat.
func NewStreamer(state *State, pixels, frameSize int, log *slog.Logger) *Streamer {
	return &Streamer{state: state, pixels: pixels, frameSize: frameSize, log: log}
}

// Serve accepts exactly one data client on ln and streams to it until the
// client disconnects, a fetch fails, or ctx is cancelled. The listener
// itself stays open for the next session.
func (s *Streamer) Serve(ctx context.Context, ln net.Listener) error {
	conn, err := Accept(ctx, ln)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer conn.Close()
	s.log.Debug("client connected to data plane socket", "remote", conn.RemoteAddr())

	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			s.log.Warn("failed to disable Nagle on socket, performance may be poor", "error", err)
		}
	}

	err = s.Stream(ctx, conn)
	s.log.Debug("client disconnected from data plane socket")
	return err
}

// Stream runs the acquisition loop against an already connected client.
//
// Sends happen outside the state lock so a slow data client cannot stall
// control-plane commands. There is deliberately no send timeout: a stalled
// client blocks its own streamer until the control session ends, and only
// that streamer.
func (s *Streamer) Stream(ctx context.Context, conn net.Conn) error {
	frame := make([]uint16, s.frameSize)
	wire := make([]byte, 4*s.pixels)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !s.state.Armed() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(armedPollInterval):
			}
			continue
		}

		if err := s.state.Acquire(frame); err != nil {
			s.log.Error("failed to get frame", "code", aseq.CodeOf(err))
			return err
		}

		// The sensor pads the payload with dummy pixels; skip the
		// leading region. The payload itself is mirrored but shipped
		// as-is, clients reverse it with their wavelength table.
		for i := 0; i < s.pixels; i++ {
			sample := float32(frame[i+aseq.FrameLeadingDummy])
			binary.LittleEndian.PutUint32(wire[4*i:], math.Float32bits(sample))
		}

		if _, err := conn.Write(wire); err != nil {
			return nil
		}
	}
}

// Accept waits for one connection on ln, polling ctx so a cancelled session
// never leaves a dangling accept that would steal the next session's
// client.
func Accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type deadliner interface {
		SetDeadline(time.Time) error
	}
	dl, hasDeadline := ln.(deadliner)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if hasDeadline {
			if err := dl.SetDeadline(time.Now().Add(acceptPollInterval)); err != nil {
				// No deadline means no polling; block on a plain
				// accept instead of spinning on a broken listener.
				hasDeadline = false
			}
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return nil, err
		}
		if hasDeadline {
			dl.SetDeadline(time.Time{})
		}
		return conn, nil
	}
}
