// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"fmt"
	"strings"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// CalBlobSpec describes a synthetic calibration blob.
type CalBlobSpec struct {
	Model  string
	Serial string

	// AbsCal controls the c.Y/c.N header flag and whether the irradiance
	// block is emitted.
	AbsCal bool

	IrradianceCoefficient float64

	Wavelengths        []float64
	SensorResponse     []float64
	IrradianceResponse []float64
}

// CalBlob builds a calibration blob with the real device's line layout:
// header, coefficient, ten reserved lines, wavelength table at line 13
// (one-based), a filler line, the sensor-response table, and optionally a
// second filler line plus the irradiance table.
func CalBlob(spec CalBlobSpec) []byte {
	flag := "c.N"
	if spec.AbsCal {
		flag = "c.Y"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", spec.Model, flag, spec.Serial)
	fmt.Fprintf(&b, "%f\n", spec.IrradianceCoefficient)
	for i := 0; i < 10; i++ {
		b.WriteString("0\n")
	}
	for _, w := range spec.Wavelengths {
		fmt.Fprintf(&b, "%.6f\n", w)
	}
	b.WriteString(" \n")
	for _, r := range spec.SensorResponse {
		fmt.Fprintf(&b, "%.6f\n", r)
	}
	if spec.AbsCal {
		b.WriteString(" \n")
		for _, r := range spec.IrradianceResponse {
			fmt.Fprintf(&b, "%.6f\n", r)
		}
	}
	return []byte(b.String())
}

// Ramp returns n evenly spaced values starting at base with the given step,
// handy for building wavelength tables.
func Ramp(base, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = base + step*float64(i)
	}
	return out
}
