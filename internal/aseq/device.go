// Package aseq wraps the ASEQ Instruments libspectr SDK for LR-series USB
// spectrometers. The real binding is only available when built with cgo and
// the vendor library installed; tests and development builds use the
// simulated device in this package instead.
package aseq

import (
	"errors"
	"fmt"
)

// Device geometry and timing constants for the LR1 sensor. The frame read
// back from the device carries dummy pixels on both ends of the real data;
// the payload is mirrored (shortest wavelengths at the highest indices),
// which clients correct for themselves.
const (
	// NumPixels is the number of real spectral bins in a frame.
	NumPixels = 3653

	// FrameLeadingDummy and FrameTrailingDummy are the dummy pixel counts
	// before and after the real data in a raw frame.
	FrameLeadingDummy  = 32
	FrameTrailingDummy = 14

	// FrameSize is the total raw frame length in samples.
	FrameSize = FrameLeadingDummy + NumPixels + FrameTrailingDummy

	// CalBlobSize is the size in bytes of the factory calibration region
	// in device flash.
	CalBlobSize = 97264

	// DefaultExposure is the initial exposure in device ticks (125 ms).
	DefaultExposure = 12500
)

// Code is a numeric status code returned by the vendor SDK. Zero means
// success; anything else identifies the failure class.
type Code int

const (
	CodeOK             Code = 0
	CodeConnectFailed  Code = 1
	CodeDeviceNotFound Code = 2
	CodeTransferFailed Code = 3
	CodeTimeout        Code = 4
	CodeFlashRead      Code = 5
)

// Error is a device operation failure carrying the SDK status code.
type Error struct {
	Op   string
	Code Code
}

func (e *Error) Error() string {
	return fmt.Sprintf("aseq: %s failed, code %d", e.Op, int(e.Code))
}

// CodeOf extracts the SDK status code from err, or -1 if err is not a
// device error.
func CodeOf(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return int(de.Code)
	}
	return -1
}

// DeviceInfo describes one enumerated spectrometer.
type DeviceInfo struct {
	Serial string
}

// Device is the fixed libspectr contract used by the bridge. One process
// owns at most one device; all methods are single-threaded from the SDK's
// point of view, so callers must serialize access themselves.
type Device interface {
	// SetFrameFormat selects the pixel range [start, end] with the given
	// reduction mode and returns the resulting raw frame size in samples.
	SetFrameFormat(start, end, reduction int) (frameSize int, err error)

	// SetExposure sets the exposure time in 10 microsecond ticks.
	SetExposure(ticks int) error

	// SetAcquisitionParameters configures scan count, blank scans, scan
	// mode and exposure for subsequent acquisitions.
	SetAcquisitionParameters(scans, blankScans, scanMode, exposureTicks int) error

	// SetExternalTrigger enables or disables the hardware trigger input.
	SetExternalTrigger(mode, slope int) error

	// TriggerAcquisition starts one acquisition with the configured
	// parameters.
	TriggerAcquisition() error

	// GetFrame blocks until the current acquisition completes and fills
	// buf, which must be at least the frame size returned by
	// SetFrameFormat.
	GetFrame(buf []uint16) error

	// ReadFlash reads len(buf) bytes of device non-volatile storage
	// starting at offset.
	ReadFlash(buf []byte, offset int) error

	// Disconnect releases the device handle.
	Disconnect() error
}
