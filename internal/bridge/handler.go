package bridge

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/openspectro/specbridge/internal/aseq"
	"github.com/openspectro/specbridge/internal/calibration"
	"github.com/openspectro/specbridge/internal/scpi"
	"github.com/openspectro/specbridge/internal/units"
)

// Identity constants for this device class. Model and serial come from the
// calibration header; the firmware has no readable version register.
const (
	instrumentMake     = "ASEQ Instruments"
	instrumentFirmware = "1.0"
)

// Handler implements the device-specific half of the SCPI protocol on top
// of the shared state and calibration record.
type Handler struct {
	state  *State
	cal    *calibration.Record
	pixels int
	log    *slog.Logger
}

// NewHandler builds the SCPI backend for one bridge instance.
func NewHandler(state *State, cal *calibration.Record, pixels int, log *slog.Logger) *Handler {
	return &Handler{state: state, cal: cal, pixels: pixels, log: log}
}

func (h *Handler) Identity() scpi.Identity {
	return scpi.Identity{
		Make:     instrumentMake,
		Model:    h.cal.Model,
		Serial:   h.cal.Serial,
		Firmware: instrumentFirmware,
	}
}

// One fixed whole-spectrum channel; one sample per trigger per pixel.
func (h *Handler) ChannelCount() int      { return 1 }
func (h *Handler) SampleRates() []uint64  { return []uint64{1} }
func (h *Handler) SampleDepths() []uint64 { return []uint64{uint64(h.pixels)} }

func (h *Handler) AcquisitionStart(oneShot bool) { h.state.Arm(oneShot) }
func (h *Handler) AcquisitionForceTrigger()      { h.state.Force() }
func (h *Handler) AcquisitionStop()              { h.state.Disarm() }

// TriggerArmed always reports true, not the internal flag. The upstream
// bridge protocol stubbed this the same way and clients depend on ARMED?
// acknowledging a start immediately, before the streamer observes the flag.
func (h *Handler) TriggerArmed() bool { return true }

func (h *Handler) Query(cmd string) (string, bool) {
	switch cmd {
	case "POINTS":
		return strconv.Itoa(h.pixels), true
	case "WAVELENGTHS":
		return formatSeries(h.cal.Wavelengths), true
	case "FLATCAL":
		return formatSeries(h.cal.SensorResponse), true
	case "IRRCOEFF":
		return fmt.Sprintf("%f", h.cal.IrradianceCoefficient), true
	case "IRRCAL":
		// Empty on units without absolute calibration.
		return formatSeries(h.cal.IrradianceResponse), true
	case "EXPOSURE":
		// Readback in the same femtosecond unit the command accepts.
		return fmt.Sprintf("%f", units.FemtosecondsFromTicks(h.state.ExposureTicks())), true
	}
	return "", false
}

func (h *Handler) Command(cmd string, args []string) bool {
	if cmd != "EXPOSURE" {
		return false
	}
	if len(args) < 1 {
		h.log.Warn("EXPOSURE command missing argument")
		return true
	}
	fs, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		// A malformed argument fails only this command.
		h.log.Warn("EXPOSURE argument not numeric", "arg", args[0])
		return true
	}
	if err := h.state.SetExposure(units.TicksFromFemtoseconds(fs)); err != nil {
		// Device errors are logged, never surfaced to the client.
		h.log.Error("failed to set exposure", "code", aseq.CodeOf(err))
	}
	return true
}

// formatSeries renders a per-pixel vector the way the protocol expects:
// three decimals, each value comma-terminated.
func formatSeries(values []float64) string {
	var b strings.Builder
	for _, v := range values {
		fmt.Fprintf(&b, "%.3f,", v)
	}
	return b.String()
}
