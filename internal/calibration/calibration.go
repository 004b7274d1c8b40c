// Package calibration parses the factory calibration blob stored in
// spectrometer flash: per-pixel wavelength and sensor-response vectors, plus
// optional absolute irradiance data on units that were factory calibrated
// for it.
package calibration

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openspectro/specbridge/internal/aseq"
)

var (
	// ErrRead indicates the blob could not be read from device flash.
	ErrRead = errors.New("calibration read failed")

	// ErrFormat indicates the blob did not have the expected layout.
	ErrFormat = errors.New("calibration format invalid")
)

// Blob layout, in newline-delimited lines. The header is
// "<model> c.[Y|N] <serial>"; c.Y means the absolute irradiance block is
// present. The wavelength table starts at line 13 (one-based, per the
// vendor docs) and each table is separated from the next by one filler
// line.
const (
	headerLine     = 0
	coeffLine      = 1
	wavelengthLine = 12

	absCalPresent = "c.Y"
)

// Record holds the parsed calibration data. It is immutable after load and
// shared read-only between the control and data planes.
type Record struct {
	Model  string
	Serial string

	// HasAbsCal reports whether the unit carries absolute irradiance
	// calibration. When false, IrradianceCoefficient is zero and
	// IrradianceResponse is empty; queries over them return empty output
	// rather than failing.
	HasAbsCal bool

	IrradianceCoefficient float64

	Wavelengths        []float64
	SensorResponse     []float64
	IrradianceResponse []float64
}

// LoadFromDevice reads the fixed-size calibration region from device flash
// and parses it for the given pixel count.
func LoadFromDevice(dev aseq.Device, pixels int) (*Record, error) {
	blob := make([]byte, aseq.CalBlobSize)
	if err := dev.ReadFlash(blob, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return Parse(blob, pixels)
}

// Parse decodes a calibration blob. The blob may carry trailing NUL padding
// (erased flash), which is ignored.
func Parse(blob []byte, pixels int) (*Record, error) {
	text := string(bytes.TrimRight(blob, "\x00"))
	lines := strings.Split(text, "\n")

	need := wavelengthLine + 2*pixels + 1
	if len(lines) < need {
		return nil, fmt.Errorf("%w: %d lines, need at least %d for %d pixels",
			ErrFormat, len(lines), need, pixels)
	}

	fields := strings.Fields(lines[headerLine])
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: header has %d fields, need 3", ErrFormat, len(fields))
	}

	rec := &Record{
		Model:     fields[0],
		HasAbsCal: fields[1] == absCalPresent,
		Serial:    fields[2],
	}

	// The coefficient line is only meaningful on absolute-calibrated
	// units; plain units leave whatever the factory wrote there.
	if v, err := parseLine(lines[coeffLine]); err == nil {
		rec.IrradianceCoefficient = v
	} else if rec.HasAbsCal {
		return nil, fmt.Errorf("%w: irradiance coefficient: %v", ErrFormat, err)
	}

	var err error
	if rec.Wavelengths, err = parseTable(lines, wavelengthLine, pixels); err != nil {
		return nil, fmt.Errorf("%w: wavelength table: %v", ErrFormat, err)
	}
	if rec.SensorResponse, err = parseTable(lines, wavelengthLine+pixels+1, pixels); err != nil {
		return nil, fmt.Errorf("%w: sensor response table: %v", ErrFormat, err)
	}

	if rec.HasAbsCal {
		start := wavelengthLine + 2*pixels + 2
		if len(lines) < start+pixels {
			return nil, fmt.Errorf("%w: %d lines, need %d for irradiance table",
				ErrFormat, len(lines), start+pixels)
		}
		if rec.IrradianceResponse, err = parseTable(lines, start, pixels); err != nil {
			return nil, fmt.Errorf("%w: irradiance table: %v", ErrFormat, err)
		}
	}

	return rec, nil
}

func parseTable(lines []string, start, count int) ([]float64, error) {
	out := make([]float64, count)
	for i := 0; i < count; i++ {
		v, err := parseLine(lines[start+i])
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", start+i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseLine(line string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(line), 64)
}
