package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"testing"
	"time"

	"github.com/openspectro/specbridge/internal/aseq"
)

const testFrameSize = aseq.FrameLeadingDummy + 4 + aseq.FrameTrailingDummy

func newTestStreamer(t *testing.T) (*Streamer, *State, *aseq.Sim) {
	t.Helper()
	sim := aseq.NewSim(4)
	state := NewState(sim, aseq.DefaultExposure, slog.Default())
	return NewStreamer(state, 4, testFrameSize, slog.Default()), state, sim
}

// readFrame reads one full wire frame (4 bytes per pixel) and decodes it.
func readFrame(t *testing.T, r io.Reader, pixels int) []float32 {
	t.Helper()
	buf := make([]byte, 4*pixels)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	out := make([]float32, pixels)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out
}

// While disarmed the streamer only polls; it must not touch the device.
func TestStreamerNoDeviceIOWhileDisarmed(t *testing.T) {
	streamer, _, sim := newTestStreamer(t)
	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- streamer.Stream(ctx, server) }()

	time.Sleep(20 * time.Millisecond)
	if n := sim.TriggerCount(); n != 0 {
		t.Errorf("trigger count while disarmed = %d, want 0", n)
	}
	if n := sim.FetchCount(); n != 0 {
		t.Errorf("fetch count while disarmed = %d, want 0", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stream returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("streamer did not stop on cancellation")
	}
}

func TestStreamerOneShot(t *testing.T) {
	streamer, state, sim := newTestStreamer(t)
	sim.SetFrame([]uint16{1000, 2000, 3000, 4000})
	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- streamer.Stream(ctx, server) }()

	state.Arm(true)
	got := readFrame(t, client, 4)
	want := []float32{1000, 2000, 3000, 4000}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pixel %d = %v, want %v", i, got[i], want[i])
		}
	}

	// One-shot: the trigger disarms itself and no further frames flow.
	time.Sleep(20 * time.Millisecond)
	if state.Armed() {
		t.Error("trigger still armed after one-shot frame")
	}
	if n := sim.FetchCount(); n != 1 {
		t.Errorf("fetch count = %d, want 1", n)
	}
}

func TestStreamerRepeating(t *testing.T) {
	streamer, state, _ := newTestStreamer(t)
	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go streamer.Stream(ctx, server)

	state.Arm(false)
	readFrame(t, client, 4)
	readFrame(t, client, 4)

	if !state.Armed() {
		t.Error("repeating mode disarmed without an explicit stop")
	}
	state.Disarm()
}

// A fetch failure closes only the data plane; the error is surfaced to the
// caller so the session can retire the streamer.
func TestStreamerFetchErrorCloses(t *testing.T) {
	streamer, state, sim := newTestStreamer(t)
	sim.SetFetchError(aseq.CodeTransferFailed)
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- streamer.Stream(context.Background(), server) }()

	state.Arm(false)
	select {
	case err := <-done:
		if err == nil {
			t.Error("Stream returned nil after fetch failure")
		}
	case <-time.After(time.Second):
		t.Fatal("streamer did not stop on fetch failure")
	}
}

// Disconnecting the data client stops its streamer without touching the
// armed flag or the rest of the session.
func TestStreamerClientDisconnect(t *testing.T) {
	streamer, state, _ := newTestStreamer(t)
	client, server := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- streamer.Stream(context.Background(), server) }()

	state.Arm(false)
	readFrame(t, client, 4)
	client.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stream returned %v on client disconnect", err)
		}
	case <-time.After(time.Second):
		t.Fatal("streamer did not stop on client disconnect")
	}
	if !state.Armed() {
		t.Error("client disconnect cleared the armed flag")
	}
}

func TestServeAcceptsOneClient(t *testing.T) {
	streamer, state, sim := newTestStreamer(t)
	sim.SetFrame([]uint16{10, 20, 30, 40})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- streamer.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	state.Arm(true)
	got := readFrame(t, conn, 4)
	if got[0] != 10 || got[3] != 40 {
		t.Errorf("frame = %v, want [10 20 30 40]", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop on cancellation")
	}
}

// brokenDeadlineListener rejects SetDeadline, like a wrapped listener that
// does not expose the underlying TCP socket.
type brokenDeadlineListener struct {
	conns chan net.Conn
}

func (l *brokenDeadlineListener) Accept() (net.Conn, error) {
	conn, ok := <-l.conns
	if !ok {
		return nil, net.ErrClosed
	}
	return conn, nil
}

func (l *brokenDeadlineListener) Close() error   { return nil }
func (l *brokenDeadlineListener) Addr() net.Addr { return &net.TCPAddr{} }

func (l *brokenDeadlineListener) SetDeadline(time.Time) error {
	return errors.New("deadline not supported")
}

// A listener that cannot take deadlines still delivers connections; the
// cancellation poll degrades to a plain blocking accept instead of spinning.
func TestAcceptDeadlineUnsupported(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	ln := &brokenDeadlineListener{conns: make(chan net.Conn, 1)}
	ln.conns <- server

	conn, err := Accept(context.Background(), ln)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if conn != server {
		t.Error("Accept returned a different connection than the pending one")
	}
}

func TestAcceptCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Accept(ctx, ln); err == nil {
		t.Fatal("Accept with cancelled context returned nil error")
	}
}
