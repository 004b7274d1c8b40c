package bridge

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openspectro/specbridge/internal/aseq"
	"github.com/openspectro/specbridge/internal/calibration"
	"github.com/openspectro/specbridge/internal/scpi"
	"github.com/openspectro/specbridge/internal/testutil"
)

// End-to-end: a control client and a paired data client against a four
// pixel simulated device.
func TestBridgeEndToEnd(t *testing.T) {
	const pixels = 4

	sim := aseq.NewSim(pixels)
	sim.SetFlash(testutil.CalBlob(testutil.CalBlobSpec{
		Model:          "LR1",
		Serial:         "SN0042",
		Wavelengths:    []float64{500.0, 500.5, 501.0, 501.5},
		SensorResponse: testutil.Ramp(1, 0, pixels),
	}))
	sim.SetFrame([]uint16{111, 222, 333, 444})

	cal, err := calibration.LoadFromDevice(sim, pixels)
	require.NoError(t, err)

	log := slog.Default()
	state := NewState(sim, aseq.DefaultExposure, log)
	handler := NewHandler(state, cal, pixels, log)

	// Data plane on a real loopback listener, control plane on a pipe.
	dataLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer dataLn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamer := NewStreamer(state, pixels, aseq.FrameLeadingDummy+pixels+aseq.FrameTrailingDummy, log)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		streamer.Serve(ctx, dataLn)
	}()

	ctrlClient, ctrlServer := net.Pipe()
	defer ctrlClient.Close()
	sess := scpi.NewSession(ctrlServer, handler, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.Run(ctx)
	}()

	ctrl := bufio.NewReader(ctrlClient)
	ask := func(q string) string {
		t.Helper()
		_, err := ctrlClient.Write([]byte(q + "\n"))
		require.NoError(t, err)
		line, err := ctrl.ReadString('\n')
		require.NoError(t, err)
		return line[:len(line)-1]
	}

	assert.Equal(t, "4", ask("POINTS?"))
	assert.Equal(t, "500.000,500.500,501.000,501.500,", ask("WAVELENGTHS?"))
	assert.Equal(t, "ASEQ Instruments,LR1,SN0042,1.0", ask("*IDN?"))

	dataConn, err := net.Dial("tcp", dataLn.Addr().String())
	require.NoError(t, err)
	defer dataConn.Close()

	// One-shot acquisition: exactly pixelCount x 4 bytes arrive, equal
	// to the device samples past the dummy region, cast to float32.
	_, err = ctrlClient.Write([]byte("SINGLE\n"))
	require.NoError(t, err)

	got := readFrame(t, dataConn, pixels)
	assert.Equal(t, []float32{111, 222, 333, 444}, got)

	// The one-shot disarmed itself: no second frame shows up.
	dataConn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	var one [1]byte
	_, err = dataConn.Read(one[:])
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout(), "unexpected extra data after one-shot frame")

	// Control plane still lives after the data client goes away.
	dataConn.Close()
	assert.Equal(t, "4", ask("POINTS?"))
	assert.Equal(t, "1", ask("ARMED?"))

	cancel()
	ctrlClient.Close()
	wg.Wait()
}

// Repeating mode keeps frames flowing until an explicit stop.
func TestBridgeRepeatingAcquisition(t *testing.T) {
	const pixels = 4

	sim := aseq.NewSim(pixels)
	state := NewState(sim, aseq.DefaultExposure, slog.Default())
	streamer := NewStreamer(state, pixels, aseq.FrameLeadingDummy+pixels+aseq.FrameTrailingDummy, slog.Default())

	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- streamer.Stream(ctx, server) }()

	state.Arm(false)
	for i := 0; i < 3; i++ {
		frame := readFrame(t, client, pixels)
		require.Len(t, frame, pixels)
	}
	require.True(t, state.Armed())

	state.Disarm()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("streamer did not stop")
	}
}

// The streamed samples come from the synthetic spectrum when no frame is
// pinned; they sit on the simulated dark-current baseline.
func TestBridgeSyntheticSpectrum(t *testing.T) {
	const pixels = 64

	sim := aseq.NewSim(pixels)
	state := NewState(sim, aseq.DefaultExposure, slog.Default())
	streamer := NewStreamer(state, pixels, aseq.FrameLeadingDummy+pixels+aseq.FrameTrailingDummy, slog.Default())

	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go streamer.Stream(ctx, server)

	state.Arm(true)
	frame := readFrame(t, client, pixels)

	var peak float32
	for _, v := range frame {
		require.GreaterOrEqual(t, v, float32(400), "sample below dark baseline")
		if v > peak {
			peak = v
		}
	}
	assert.Greater(t, peak, float32(10000), "no emission line in synthetic spectrum")
}
