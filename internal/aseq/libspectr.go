//go:build linux && cgo

package aseq

/*
#cgo LDFLAGS: -lspectr
#include <stdlib.h>
#include <libspectr.h>
*/
import "C"

import "unsafe"

// usbDevice is a connected spectrometer backed by the vendor library.
type usbDevice struct {
	handle C.uintptr_t
}

// Enumerate lists spectrometers attached to the host.
func Enumerate() ([]DeviceInfo, error) {
	info := C.getDevicesInfo()
	defer C.clearDevicesInfo(info)

	var devices []DeviceInfo
	for p := info; p != nil; p = p.next {
		devices = append(devices, DeviceInfo{Serial: C.GoString(p.serialNumber)})
	}
	return devices, nil
}

// ConnectByIndex opens the n-th enumerated spectrometer. Connecting by
// serial is not offered: connectToDeviceBySerial is broken in the vendor
// library and always yields a null handle.
func ConnectByIndex(index int) (Device, error) {
	d := &usbDevice{}
	if rc := C.connectToDeviceByIndex(C.uint(index), &d.handle); rc != 0 {
		return nil, &Error{Op: "connect", Code: Code(rc)}
	}
	return d, nil
}

func (d *usbDevice) SetFrameFormat(start, end, reduction int) (int, error) {
	var frameSize C.uint16_t
	rc := C.setFrameFormat(C.uint16_t(start), C.uint16_t(end), C.uint8_t(reduction), &frameSize, &d.handle)
	if rc != 0 {
		return 0, &Error{Op: "set frame format", Code: Code(rc)}
	}
	return int(frameSize), nil
}

func (d *usbDevice) SetExposure(ticks int) error {
	if rc := C.setExposure(C.uint32_t(ticks), 0, &d.handle); rc != 0 {
		return &Error{Op: "set exposure", Code: Code(rc)}
	}
	return nil
}

func (d *usbDevice) SetAcquisitionParameters(scans, blankScans, scanMode, exposureTicks int) error {
	rc := C.setAcquisitionParameters(
		C.uint16_t(scans), C.uint16_t(blankScans), C.uint8_t(scanMode), C.uint32_t(exposureTicks), &d.handle)
	if rc != 0 {
		return &Error{Op: "set acquisition parameters", Code: Code(rc)}
	}
	return nil
}

func (d *usbDevice) SetExternalTrigger(mode, slope int) error {
	if rc := C.setExternalTrigger(C.uint8_t(mode), C.uint8_t(slope), &d.handle); rc != 0 {
		return &Error{Op: "set external trigger", Code: Code(rc)}
	}
	return nil
}

func (d *usbDevice) TriggerAcquisition() error {
	if rc := C.triggerAcquisition(&d.handle); rc != 0 {
		return &Error{Op: "trigger", Code: Code(rc)}
	}
	return nil
}

func (d *usbDevice) GetFrame(buf []uint16) error {
	// 0xffff requests the most recent completed scan.
	rc := C.getFrame((*C.uint16_t)(unsafe.Pointer(&buf[0])), 0xffff, &d.handle)
	if rc != 0 {
		return &Error{Op: "get frame", Code: Code(rc)}
	}
	return nil
}

func (d *usbDevice) ReadFlash(buf []byte, offset int) error {
	rc := C.readFlash((*C.uint8_t)(unsafe.Pointer(&buf[0])), C.uint32_t(offset), C.uint32_t(len(buf)), &d.handle)
	if rc != 0 {
		return &Error{Op: "read flash", Code: Code(rc)}
	}
	return nil
}

func (d *usbDevice) Disconnect() error {
	if rc := C.disconnectDeviceContext(&d.handle); rc != 0 {
		return &Error{Op: "disconnect", Code: Code(rc)}
	}
	return nil
}
