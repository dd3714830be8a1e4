package supervisor

import "sync"

// state is the shared lifecycle record. Every method holds the lock only
// for the duration of the access.
type state struct {
	mu              sync.Mutex
	proc            *Process
	healthRunning   bool
	resourceRunning bool
}

func (s *state) present() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

func (s *state) current() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

func (s *state) store(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = p
}

// takeProcess removes and returns the handle; at most one caller ever
// receives a given process
func (s *state) takeProcess() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.proc
	s.proc = nil
	return p
}

// claimHealthTask sets the health flag and reports whether it was unset
func (s *state) claimHealthTask() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healthRunning {
		return false
	}
	s.healthRunning = true
	return true
}

// claimResourceTask sets the resource flag and reports whether it was unset
func (s *state) claimResourceTask() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resourceRunning {
		return false
	}
	s.resourceRunning = true
	return true
}

func (s *state) flags() (health, resource bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthRunning, s.resourceRunning
}
