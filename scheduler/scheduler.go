package scheduler

import (
	"context"
	"sort"
	"sync"

	cron "github.com/robfig/cron/v3"
)

type JobFunc func(context.Context)

type entry struct {
	id   cron.EntryID
	spec string
}

// Scheduler runs named functions on cron specs inside this process.
type Scheduler struct {
	mu      sync.Mutex
	ctx     context.Context
	cron    *cron.Cron
	entries map[string]entry
}

// New starts a scheduler. Scheduled functions receive ctx, so cancelling it
// stops in-flight runs as well as future ones.
func New(ctx context.Context) *Scheduler {
	c := cron.New(cron.WithSeconds())
	c.Start()
	return &Scheduler{ctx: ctx, cron: c, entries: map[string]entry{}}
}

// Schedule uses standard cron syntax (with seconds): "* * * * * *". An
// existing entry under name is replaced.
func (s *Scheduler) Schedule(name string, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, name)
	}
	id, err := s.cron.AddFunc(spec, func() {
		if s.ctx.Err() != nil {
			return
		}
		fn(s.ctx)
	})
	if err != nil {
		return err
	}
	s.entries[name] = entry{id: id, spec: spec}
	return nil
}

// Spec returns the cron spec name is scheduled on.
func (s *Scheduler) Spec(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	return e.spec, ok
}

func (s *Scheduler) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, name)
	}
}

func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stop halts the cron loop and waits for running functions to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
