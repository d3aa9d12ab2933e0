// Package heartbeat evicts connections that stop sending heartbeats.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultInterval = 20 * time.Second
	DefaultTimeout  = 60 * time.Second
)

type Config struct {
	// Interval is how often clients are expected to beat.
	Interval time.Duration
	// Timeout is how long a connection may stay silent. At least 2*Interval.
	Timeout time.Duration
}

func (c *Config) Validate() error {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Interval < 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Timeout < 2*c.Interval {
		return fmt.Errorf("heartbeat timeout %s must be at least twice the interval %s", c.Timeout, c.Interval)
	}
	return nil
}

type watch struct {
	lastBeat time.Time
	onExpire func()
}

type Supervisor struct {
	Config
	mu      sync.Mutex
	watches map[string]*watch
	now     func() time.Time
}

func NewSupervisor(cfg Config) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Supervisor{
		Config:  cfg,
		watches: make(map[string]*watch),
		now:     time.Now,
	}, nil
}

// Watch starts tracking connID. onExpire runs once, outside the supervisor lock,
// if the connection goes silent for longer than Timeout.
func (s *Supervisor) Watch(connID string, onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches[connID] = &watch{lastBeat: s.now(), onExpire: onExpire}
}

// Beat records a heartbeat. It reports false if connID is not watched.
func (s *Supervisor) Beat(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[connID]
	if !ok {
		return false
	}
	w.lastBeat = s.now()
	return true
}

// Cancel stops tracking connID without running its callback.
func (s *Supervisor) Cancel(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watches, connID)
}

func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// SweepOnce expires every connection silent for longer than Timeout at now and
// returns their ids.
func (s *Supervisor) SweepOnce(now time.Time) []string {
	var (
		expired   []string
		callbacks []func()
	)

	s.mu.Lock()
	for id, w := range s.watches {
		if now.Sub(w.lastBeat) > s.Timeout {
			expired = append(expired, id)
			callbacks = append(callbacks, w.onExpire)
			delete(s.watches, id)
		}
	}
	s.mu.Unlock()

	for i, cb := range callbacks {
		slog.Info("heartbeat timeout", "conn_id", expired[i])
		if cb != nil {
			cb()
		}
	}
	return expired
}

// Run sweeps every half interval until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.SweepOnce(s.now())
		}
	}
}
