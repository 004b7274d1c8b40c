// Package units provides shared constants and conversion for exposure time
package units

import "time"

// The device expresses exposure in ticks of 10 microseconds. The SCPI
// control protocol carries trigger timing in femtoseconds, so one tick is
// 1e10 fs and the conversion factor from femtoseconds to ticks is 1e-10.
const (
	TickDuration = 10 * time.Microsecond

	FemtosecondsPerTick = 1e10
)

// TicksFromFemtoseconds converts a femtosecond exposure value from the wire
// into device ticks, truncating toward zero like the device firmware does.
func TicksFromFemtoseconds(fs float64) int {
	return int(fs / FemtosecondsPerTick)
}

// FemtosecondsFromTicks converts device ticks back to femtoseconds.
func FemtosecondsFromTicks(ticks int) float64 {
	return float64(ticks) * FemtosecondsPerTick
}

// Duration returns the wall-clock exposure time for a tick count.
func Duration(ticks int) time.Duration {
	return time.Duration(ticks) * TickDuration
}
