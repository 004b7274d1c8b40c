// Package bridge pairs the two halves of the spectrometer bridge: the SCPI
// control plane that mutates acquisition state and the data-plane streamer
// that drives the device and pushes frames to a client. The two communicate
// only through State, which also serializes every device transaction.
package bridge

import (
	"log/slog"
	"sync"

	"github.com/openspectro/specbridge/internal/aseq"
)

// State is the shared acquisition state: the trigger flags and the single
// device handle. One mutex guards both, so an exposure change can never
// interleave with an in-flight trigger+fetch transaction.
type State struct {
	mu sync.Mutex

	dev           aseq.Device
	armed         bool
	oneShot       bool
	exposureTicks int

	log *slog.Logger
}

// NewState wraps the device handle opened at startup. It is constructed
// once and passed by reference to both planes.
func NewState(dev aseq.Device, exposureTicks int, log *slog.Logger) *State {
	return &State{dev: dev, exposureTicks: exposureTicks, log: log}
}

// Arm arms the trigger. With oneShot set the streamer disarms automatically
// after one successful frame.
func (s *State) Arm(oneShot bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	s.oneShot = oneShot
}

// Force arms the trigger without touching the one-shot flag.
func (s *State) Force() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
}

// Disarm clears the trigger.
func (s *State) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
}

// Armed reports the trigger flag. The streamer polls this without holding
// the lock across device work.
func (s *State) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// SetExposure applies a new exposure to the device under the shared lock
// and records it. A device failure leaves the recorded value unchanged.
func (s *State) SetExposure(ticks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dev.SetExposure(ticks); err != nil {
		return err
	}
	s.exposureTicks = ticks
	return nil
}

// ExposureTicks returns the last successfully applied exposure.
func (s *State) ExposureTicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposureTicks
}

// Acquire runs one trigger+fetch transaction under the lock and fills buf
// with the raw frame. In one-shot mode the armed flag is cleared before the
// lock is released, so a client re-arming concurrently cannot observe a
// stale armed=true between frame and disarm.
//
// A trigger failure is logged with its SDK code and the fetch still
// attempted, matching the device's tolerance for re-fetching the last scan.
// A fetch failure is returned; the caller treats it as session-fatal.
func (s *State) Acquire(buf []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dev.TriggerAcquisition(); err != nil {
		s.log.Error("failed to trigger acquisition", "code", aseq.CodeOf(err))
	}
	if err := s.dev.GetFrame(buf); err != nil {
		return err
	}
	if s.oneShot {
		s.armed = false
	}
	return nil
}
