// Package health serves liveness and readiness probes.
//
// Probes run in the background on a fixed interval and the endpoints only
// report the last observed state. A probe flips to failing after
// FailureThreshold consecutive errors and back after one success.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// FailureThreshold is the number of consecutive failures after which a probe
// is reported as failing.
const FailureThreshold = 3

// Kind selects the endpoint a probe contributes to.
type Kind uint8

const (
	Liveness Kind = iota
	Readiness
	// Advisory probes are run and logged but never fail an endpoint. They
	// suit dependencies the service degrades gracefully without.
	Advisory
)

func (k Kind) String() string {
	switch k {
	case Liveness:
		return "liveness"
	case Readiness:
		return "readiness"
	default:
		return "advisory"
	}
}

// Probe reports an error when the checked dependency is unusable.
type Probe func(ctx context.Context) error

type probeState struct {
	name    string
	kind    Kind
	timeout time.Duration
	probe   Probe

	// Written by the probe goroutine only.
	fails int

	failing atomic.Bool
	lastErr atomic.Pointer[string]
}

func (p *probeState) run(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.probe(pctx)
	if err == nil {
		p.fails = 0
		p.lastErr.Store(nil)
		if p.failing.Swap(false) {
			zctx.From(ctx).Info("Probe recovered",
				zap.String("probe", p.name),
				zap.Stringer("kind", p.kind),
			)
		}
		return
	}

	msg := err.Error()
	p.lastErr.Store(&msg)
	p.fails++
	if p.fails >= FailureThreshold && !p.failing.Swap(true) {
		zctx.From(ctx).Warn("Probe failing",
			zap.String("probe", p.name),
			zap.Stringer("kind", p.kind),
			zap.Int("consecutive_failures", p.fails),
			zap.Error(err),
		)
	}
}

func (p *probeState) failure() string {
	if m := p.lastErr.Load(); m != nil {
		return *m
	}
	return "probe is failing"
}

// Service holds the registered probes and the manual readiness gate.
type Service struct {
	ready atomic.Bool

	mu     sync.Mutex
	probes []*probeState
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Service that reports not ready until SetReady(true).
func New() *Service {
	return &Service{}
}

// Register adds a probe. Probes registered after Start are not run.
func (s *Service) Register(name string, kind Kind, timeout time.Duration, probe Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes = append(s.probes, &probeState{
		name:    name,
		kind:    kind,
		timeout: timeout,
		probe:   probe,
	})
}

// Start runs every probe immediately and then every interval until Stop or
// until ctx is done.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, p := range s.probes {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				p.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop halts the probes and waits for them to return.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// SetReady opens or closes the readiness gate. The gate is closed while the
// process starts up and again when it begins draining.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Ready reports whether the gate is open and no readiness probe is failing.
func (s *Service) Ready() bool {
	return s.ready.Load() && len(s.failures(Readiness)) == 0
}

func (s *Service) failures(kind Kind) map[string]string {
	s.mu.Lock()
	probes := append([]*probeState(nil), s.probes...)
	s.mu.Unlock()

	out := map[string]string{}
	for _, p := range probes {
		if p.kind == kind && p.failing.Load() {
			out[p.name] = p.failure()
		}
	}
	return out
}

// LiveHandler serves /livez.
func (s *Service) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, s.failures(Liveness))
}

// ReadyHandler serves /readyz.
func (s *Service) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	failures := s.failures(Readiness)
	if !s.ready.Load() {
		failures["gate"] = "not accepting traffic"
	}
	writeStatus(w, failures)
}

// writeStatus answers {"status":"ok"} or 503 with the failing probes sorted
// by name.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	status := http.StatusOK
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")

		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
