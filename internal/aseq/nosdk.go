//go:build !linux || !cgo

package aseq

// Builds without the vendor library can still compile and run tests against
// the simulated device, but cannot open real hardware.

// Enumerate lists spectrometers attached to the host.
func Enumerate() ([]DeviceInfo, error) {
	return nil, nil
}

// ConnectByIndex opens the n-th enumerated spectrometer.
func ConnectByIndex(index int) (Device, error) {
	return nil, &Error{Op: "connect", Code: CodeDeviceNotFound}
}
