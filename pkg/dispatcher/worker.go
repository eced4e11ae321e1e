package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/balancoor/pkg/events"
	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/ethpandaops/balancoor/pkg/scheduler"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// work drains the queue of one server, one test at a time.
func (r *run) work(server model.Server) {
	ep := server.Endpoint()
	log := r.d.log.WithField("server", ep)

	if r.needsProbe(ep) {
		if err := r.d.runner.Probe(r.ctx, server); err != nil && r.ctx.Err() == nil {
			r.markUnhealthy(ep, fmt.Errorf("%w: probe failed: %w", model.ErrServerUnavailable, err))

			return
		}
	}

	for {
		tc, limiter, ok := r.next(ep)
		if !ok {
			log.Debug("Worker stopped")

			return
		}

		if limiter != nil && !r.pace(limiter) {
			r.mu.Lock()
			r.abandoned++
			r.mu.Unlock()

			continue
		}

		result, err := r.runTest(server, tc)
		r.emit(result)

		if err != nil {
			r.observeFailure(server, err)
		} else {
			r.mu.Lock()
			r.servers[ep].failures = 0
			r.mu.Unlock()
		}
	}
}

// pace blocks until limiter allows the next start. It returns false only
// when the run was cancelled while waiting.
func (r *run) pace(limiter *rate.Limiter) bool {
	err := limiter.Wait(r.ctx)
	if err == nil {
		return true
	}

	if r.ctx.Err() != nil {
		return false
	}

	// Wait fails up front when the delay would pass the ctx deadline.
	res := limiter.Reserve()

	timer := time.NewTimer(res.Delay())
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-r.ctx.Done():
		res.Cancel()

		return false
	}
}

func (r *run) needsProbe(ep string) bool {
	if !r.d.cfg.ProbeOnStart {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.servers[ep]
	if state.probed {
		return false
	}

	state.probed = true

	return true
}

// next pops the head of the queue. The worker must stop when it returns
// false; running is cleared under the same lock so a concurrent rebalance
// knows to spawn a new worker.
func (r *run) next(ep string) (tc model.TestCase, limiter *rate.Limiter, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.servers[ep]

	if r.ctx.Err() != nil {
		r.abandoned += len(state.queue)
		state.queue = nil
		state.running = false

		return tc, nil, false
	}

	if !state.healthy || len(state.queue) == 0 {
		state.running = false

		return tc, nil, false
	}

	tc = state.queue[0]
	state.queue = state.queue[1:]

	return tc, state.limiter, true
}

func (r *run) runTest(server model.Server, tc model.TestCase) (*model.RunResult, error) {
	ep := server.Endpoint()

	r.d.listener.OnEvent(events.NewTestStarted(tc, ep))

	started := time.Now()
	report, err := r.d.runner.Run(r.execCtx, server, tc)
	finished := time.Now()

	result := &model.RunResult{
		TestID:     tc.ID,
		Name:       tc.Name,
		Server:     ep,
		Outcome:    model.OutcomeErrored,
		Duration:   finished.Sub(started),
		StartedAt:  started,
		FinishedAt: finished,
	}

	if report != nil {
		result.Output = report.Output

		if report.Duration > 0 {
			result.Duration = report.Duration
		}
	}

	switch {
	case err != nil:
		result.Error = err.Error()
	case report == nil:
		err = fmt.Errorf("%w: runner returned no report for %s", model.ErrRunnerExecution, tc.ID)
		result.Error = err.Error()
	default:
		result.Outcome = report.Outcome
	}

	return result, err
}

// observeFailure decides whether an infrastructure error takes the server
// out of rotation: immediately when it is unreachable, otherwise after the
// configured number of consecutive errors.
func (r *run) observeFailure(server model.Server, err error) {
	ep := server.Endpoint()

	if r.ctx.Err() != nil {
		return
	}

	if errors.Is(err, model.ErrServerUnavailable) {
		r.markUnhealthy(ep, err)

		return
	}

	if probeErr := r.d.runner.Probe(r.ctx, server); probeErr != nil && r.ctx.Err() == nil {
		r.markUnhealthy(ep, fmt.Errorf("%w: probe after runner error: %w", model.ErrServerUnavailable, probeErr))

		return
	}

	r.mu.Lock()
	state := r.servers[ep]
	state.failures++
	failures := state.failures
	r.mu.Unlock()

	r.d.log.WithFields(logrus.Fields{
		"server":   ep,
		"failures": failures,
	}).WithError(err).Debug("Runner error")

	if failures >= r.d.cfg.UnhealthyAfter {
		r.markUnhealthy(ep, fmt.Errorf(
			"%w: %d consecutive runner errors: %w", model.ErrServerUnavailable, failures, err,
		))
	}
}

// markUnhealthy takes a server out of rotation and moves its unstarted tests
// to the remaining healthy servers with a fresh schedule.
func (r *run) markUnhealthy(ep string, reason error) {
	r.mu.Lock()

	state := r.servers[ep]
	if !state.healthy {
		r.mu.Unlock()

		return
	}

	state.healthy = false
	remaining := state.queue
	state.queue = nil

	r.mu.Unlock()

	r.d.listener.OnEvent(events.NewServerUnhealthy(ep, reason))

	if len(remaining) == 0 {
		return
	}

	r.rebalance(ep, remaining)
}

func (r *run) rebalance(from string, remaining []model.TestCase) {
	r.mu.Lock()

	if r.ctx.Err() != nil {
		r.abandoned += len(remaining)
		r.mu.Unlock()

		return
	}

	healthy := make([]model.Server, 0, len(r.order))
	for _, ep := range r.order {
		if r.servers[ep].healthy {
			healthy = append(healthy, r.servers[ep].server)
		}
	}

	var (
		targets map[string]int
		err     = fmt.Errorf("%w: no healthy servers left", model.ErrServerUnavailable)
	)

	if len(healthy) > 0 {
		var assignment *scheduler.Assignment

		assignment, err = r.d.sched.Schedule(remaining, healthy)
		if err == nil {
			targets = make(map[string]int, len(healthy))

			for _, s := range healthy {
				moved := assignment.Queue(s)
				if len(moved) == 0 {
					continue
				}

				ep := s.Endpoint()
				r.servers[ep].queue = append(r.servers[ep].queue, moved...)
				targets[ep] = len(moved)
				r.spawnLocked(ep)
			}
		}
	}

	r.mu.Unlock()

	r.d.listener.OnEvent(events.NewRebalanceTriggered(from, len(remaining), targets))

	if err == nil {
		return
	}

	// Nowhere to run them: report every remaining test as errored.
	for _, tc := range remaining {
		now := time.Now()
		r.emit(&model.RunResult{
			TestID:     tc.ID,
			Name:       tc.Name,
			Server:     from,
			Outcome:    model.OutcomeErrored,
			Error:      err.Error(),
			FinishedAt: now,
		})
	}
}
