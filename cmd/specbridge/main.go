// Command specbridge bridges a USB spectrometer to network clients: a SCPI
// control channel for commands and queries, and a separate binary channel
// streaming spectral frames.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/openspectro/specbridge/internal/aseq"
	"github.com/openspectro/specbridge/internal/bridge"
	"github.com/openspectro/specbridge/internal/calibration"
	"github.com/openspectro/specbridge/internal/monitoring"
	"github.com/openspectro/specbridge/internal/scpi"
	"github.com/openspectro/specbridge/internal/units"
	"github.com/openspectro/specbridge/internal/version"
)

var (
	scpiPort     = flag.Int("scpi-port", 5025, "SCPI control plane port")
	waveformPort = flag.Int("waveform-port", 5026, "binary waveform data port")
	quiet        = flag.Bool("quiet", false, "log warnings and errors only")
	verbose      = flag.Bool("verbose", false, "enable verbose logging")
	debug        = flag.Bool("debug", false, "enable debug logging")
	logFile      = flag.String("logfile", "", "write log output to a file instead of stderr")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "specbridge [general options] [logger options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log, closeLog, err := monitoring.Setup(monitoring.Options{
		Quiet:   *quiet,
		Verbose: *verbose,
		Debug:   *debug,
		LogFile: *logFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "specbridge: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(log); err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	log.Info("specbridge starting", "version", version.String())

	devices, err := aseq.Enumerate()
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}
	log.Debug("enumerated spectrometers", "count", len(devices))
	for _, d := range devices {
		log.Debug("found spectrometer", "serial", d.Serial)
	}

	// Connecting by serial is broken in the vendor SDK; always take the
	// first device.
	dev, err := aseq.ConnectByIndex(0)
	if err != nil {
		if aseq.CodeOf(err) == int(aseq.CodeConnectFailed) {
			log.Info("connect failed, check permissions on /dev/hidrawX")
		}
		return fmt.Errorf("failed to connect to device: %w", err)
	}
	defer dev.Disconnect()

	cal, err := calibration.LoadFromDevice(dev, aseq.NumPixels)
	if err != nil {
		return fmt.Errorf("failed to read calibration data: %w", err)
	}
	log.Info("successfully opened instrument", "model", cal.Model, "serial", cal.Serial)
	if cal.HasAbsCal {
		log.Debug("absolute cal data present")
	}

	frameSize, err := initDevice(dev)
	if err != nil {
		return err
	}
	log.Debug("device configured",
		"frame_size", frameSize,
		"exposure", units.Duration(aseq.DefaultExposure))

	state := bridge.NewState(dev, aseq.DefaultExposure, log)
	handler := bridge.NewHandler(state, cal, aseq.NumPixels, log)

	scpiLn, err := net.Listen("tcp", fmt.Sprintf(":%d", *scpiPort))
	if err != nil {
		return fmt.Errorf("failed to listen on SCPI port: %w", err)
	}
	defer scpiLn.Close()

	dataLn, err := net.Listen("tcp", fmt.Sprintf(":%d", *waveformPort))
	if err != nil {
		return fmt.Errorf("failed to listen on waveform port: %w", err)
	}
	defer dataLn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("ready", "scpi_port", *scpiPort, "waveform_port", *waveformPort)
	serve(ctx, log, scpiLn, dataLn, state, handler, frameSize)

	log.Info("shutting down")
	return nil
}

// initDevice applies the initial acquisition configuration: full-sensor
// frame format, default exposure, single free-running scan with no
// averaging, no external trigger, then one throwaway acquisition to prove
// the device captures. Any failure here is fatal.
func initDevice(dev aseq.Device) (int, error) {
	frameSize, err := dev.SetFrameFormat(0, aseq.NumPixels-1, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to set frame format: %w", err)
	}
	if frameSize != aseq.FrameSize {
		return 0, fmt.Errorf("device frame size %d does not match expected %d", frameSize, aseq.FrameSize)
	}
	if err := dev.SetExposure(aseq.DefaultExposure); err != nil {
		return 0, fmt.Errorf("failed to set exposure: %w", err)
	}
	if err := dev.SetAcquisitionParameters(1, 0, 0, aseq.DefaultExposure); err != nil {
		return 0, fmt.Errorf("failed to set acquisition parameters: %w", err)
	}
	if err := dev.SetExternalTrigger(0, 0); err != nil {
		return 0, fmt.Errorf("failed to set trigger mode: %w", err)
	}

	if err := dev.TriggerAcquisition(); err != nil {
		return 0, fmt.Errorf("failed to trigger acquisition: %w", err)
	}
	frame := make([]uint16, frameSize)
	if err := dev.GetFrame(frame); err != nil {
		return 0, fmt.Errorf("failed to get frame: %w", err)
	}
	return frameSize, nil
}

// serve accepts one control connection at a time. Each control session gets
// a paired data-plane streamer; the streamer is stopped and joined before
// the next control client is accepted, so device state never spans two
// sessions.
func serve(ctx context.Context, log *slog.Logger, scpiLn, dataLn net.Listener,
	state *bridge.State, handler *bridge.Handler, frameSize int) {

	for {
		conn, err := bridge.Accept(ctx, scpiLn)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("control plane accept failed", "error", err)
			}
			return
		}

		session := log.With("session", uuid.NewString())
		session.Info("client connected", "remote", conn.RemoteAddr())

		sessCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			streamer := bridge.NewStreamer(state, aseq.NumPixels, frameSize, session)
			if err := streamer.Serve(sessCtx, dataLn); err != nil {
				session.Debug("streamer stopped", "error", err)
			}
		}()

		if err := scpi.NewSession(conn, handler, session).Run(sessCtx); err != nil {
			session.Debug("control session ended", "error", err)
		}

		cancel()
		wg.Wait()
		conn.Close()
		session.Info("client disconnected")
	}
}
