package probe

import (
	"context"
	"log"
	"sync"
	"time"
)

// Prober is the slice of the scraper registry the probe loop needs.
type Prober interface {
	ProbeAll(ctx context.Context)
}

// Service runs periodic connectivity checks against every running scraper
// so reachability status stays fresh without a request in flight.
type Service struct {
	prober     Prober
	interval   time.Duration
	runOnStart bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a probe service. Intervals under a minute are clamped.
func NewService(prober Prober, interval time.Duration, runOnStart bool) *Service {
	if interval < time.Minute {
		interval = 30 * time.Minute
	}
	return &Service{
		prober:     prober,
		interval:   interval,
		runOnStart: runOnStart,
	}
}

// Start begins the background probe loop. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)

	log.Printf("[probe] started, interval %s", s.interval)
}

// Stop cancels the loop and waits for the in-flight probe to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	log.Printf("[probe] stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.runOnStart {
		s.probeOnce(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeOnce(ctx)
		}
	}
}

func (s *Service) probeOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	s.prober.ProbeAll(ctx)
}
