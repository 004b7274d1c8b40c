package aseq

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sim is an in-memory Device implementation. It produces a synthetic
// emission spectrum (flat baseline plus one Gaussian peak scaled by the
// current exposure) and serves flash reads from a configurable blob.
//
// Every SDK call is appended to an operation log so tests can assert on
// ordering and call counts. Sim is safe for concurrent use, though like the
// real device it expects callers to serialize acquisition transactions.
type Sim struct {
	mu sync.Mutex

	pixels    int
	frameSize int
	exposure  int
	flash     []byte

	pinned []uint16 // fixed logical pixel values, overrides synthesis

	triggerErr Code
	fetchErr   Code
	fetchDelay time.Duration

	ops          []string
	triggerCount int
	fetchCount   int

	connected bool
}

// NewSim creates a simulated spectrometer with the given pixel count. The
// raw frame keeps the real device's dummy regions around the payload.
func NewSim(pixels int) *Sim {
	return &Sim{
		pixels:    pixels,
		frameSize: FrameLeadingDummy + pixels + FrameTrailingDummy,
		exposure:  DefaultExposure,
		connected: true,
	}
}

// SetFlash replaces the simulated flash contents. Reads past the end of the
// blob are zero-filled, matching erased flash.
func (s *Sim) SetFlash(blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flash = blob
}

// SetFrame pins the logical pixel values returned by subsequent GetFrame
// calls. Pass nil to return to synthetic spectra.
func (s *Sim) SetFrame(samples []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = samples
}

// SetTriggerError makes TriggerAcquisition fail with the given code until
// reset with CodeOK.
func (s *Sim) SetTriggerError(code Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggerErr = code
}

// SetFetchError makes GetFrame fail with the given code until reset.
func (s *Sim) SetFetchError(code Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = code
}

// SetFetchDelay makes GetFrame block for d before returning, emulating the
// exposure time of a real acquisition.
func (s *Sim) SetFetchDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchDelay = d
}

// Ops returns a copy of the operation log.
func (s *Sim) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

// TriggerCount reports how many acquisitions were triggered.
func (s *Sim) TriggerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggerCount
}

// FetchCount reports how many frames were fetched.
func (s *Sim) FetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCount
}

func (s *Sim) record(op string) {
	s.ops = append(s.ops, op)
}

func (s *Sim) SetFrameFormat(start, end, reduction int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("setFrameFormat")
	if start < 0 || end < start || end >= s.pixels {
		return 0, &Error{Op: "set frame format", Code: CodeTransferFailed}
	}
	return s.frameSize, nil
}

func (s *Sim) SetExposure(ticks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("setExposure")
	if ticks <= 0 {
		return &Error{Op: "set exposure", Code: CodeTransferFailed}
	}
	s.exposure = ticks
	return nil
}

func (s *Sim) SetAcquisitionParameters(scans, blankScans, scanMode, exposureTicks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("setAcquisitionParameters")
	s.exposure = exposureTicks
	return nil
}

func (s *Sim) SetExternalTrigger(mode, slope int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("setExternalTrigger")
	return nil
}

func (s *Sim) TriggerAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("trigger")
	if s.triggerErr != CodeOK {
		return &Error{Op: "trigger", Code: s.triggerErr}
	}
	s.triggerCount++
	return nil
}

func (s *Sim) GetFrame(buf []uint16) error {
	s.mu.Lock()
	s.record("getFrame")
	if s.fetchErr != CodeOK {
		code := s.fetchErr
		s.mu.Unlock()
		return &Error{Op: "get frame", Code: code}
	}
	if len(buf) < s.frameSize {
		s.mu.Unlock()
		return &Error{Op: "get frame", Code: CodeTransferFailed}
	}
	delay := s.fetchDelay
	s.fetchCount++
	s.fill(buf)
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

// fill writes one raw frame into buf: zeroed dummy regions around either the
// pinned payload or a synthesized spectrum. Caller holds s.mu.
func (s *Sim) fill(buf []uint16) {
	for i := range buf[:s.frameSize] {
		buf[i] = 0
	}
	data := buf[FrameLeadingDummy : FrameLeadingDummy+s.pixels]
	if s.pinned != nil {
		copy(data, s.pinned)
		return
	}

	// One emission line in the middle of the sensor, amplitude
	// proportional to exposure, on a dark-current baseline.
	peak := distuv.Normal{
		Mu:    float64(s.pixels) / 2,
		Sigma: float64(s.pixels)/64 + 1,
	}
	scale := float64(s.exposure) / float64(DefaultExposure) * 40000 / peak.Prob(peak.Mu)
	for i := range data {
		counts := 400 + scale*peak.Prob(float64(i))
		if counts > 65535 {
			counts = 65535
		}
		data[i] = uint16(counts)
	}
}

func (s *Sim) ReadFlash(buf []byte, offset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("readFlash")
	if !s.connected {
		return &Error{Op: "read flash", Code: CodeFlashRead}
	}
	for i := range buf {
		buf[i] = 0
	}
	if offset < len(s.flash) {
		copy(buf, s.flash[offset:])
	}
	return nil
}

func (s *Sim) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("disconnect")
	s.connected = false
	return nil
}
