package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/ethpandaops/balancoor/pkg/config"
	"github.com/ethpandaops/balancoor/pkg/events"
	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/ethpandaops/balancoor/pkg/runner"
	"github.com/ethpandaops/balancoor/pkg/scheduler"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Dispatcher executes an assignment with one sequential worker per server.
type Dispatcher interface {
	// Run starts the workers and returns the result stream. Results arrive
	// in completion order; the channel is closed once every worker has
	// stopped. Cancelling ctx stops new tests from starting: in-flight
	// tests get the configured grace period and queued tests are abandoned
	// without a result.
	Run(ctx context.Context, assignment *scheduler.Assignment) <-chan *model.RunResult
}

type dispatcher struct {
	log      logrus.FieldLogger
	cfg      *config.DispatchConfig
	runner   runner.Runner
	sched    scheduler.Scheduler
	listener events.Listener
}

// Ensure interface compliance.
var _ Dispatcher = (*dispatcher)(nil)

// NewDispatcher creates a dispatcher. sched is used to redistribute the
// unstarted tests of a failed server over the remaining healthy ones.
func NewDispatcher(
	log logrus.FieldLogger,
	cfg *config.DispatchConfig,
	r runner.Runner,
	sched scheduler.Scheduler,
	listener events.Listener,
) Dispatcher {
	if listener == nil {
		listener = events.Discard
	}

	return &dispatcher{
		log:      log.WithField("component", "dispatcher"),
		cfg:      cfg,
		runner:   r,
		sched:    sched,
		listener: listener,
	}
}

// serverState is the per-run bookkeeping of one server. Guarded by run.mu.
type serverState struct {
	server   model.Server
	queue    []model.TestCase
	healthy  bool
	running  bool
	probed   bool
	failures int
	limiter  *rate.Limiter
}

// run holds the state of a single Run call.
type run struct {
	d       *dispatcher
	ctx     context.Context
	execCtx context.Context
	results chan *model.RunResult
	group   errgroup.Group

	mu        sync.Mutex
	order     []string
	servers   map[string]*serverState
	abandoned int
}

func (d *dispatcher) Run(ctx context.Context, assignment *scheduler.Assignment) <-chan *model.RunResult {
	r := &run{
		d:       d,
		ctx:     ctx,
		results: make(chan *model.RunResult, assignment.Total()),
		servers: make(map[string]*serverState, len(assignment.Servers)),
	}

	for _, s := range assignment.Servers {
		ep := s.Endpoint()
		state := &serverState{
			server:  s,
			queue:   append([]model.TestCase(nil), assignment.Queues[ep]...),
			healthy: true,
		}

		if d.cfg.MaxStartsPerMinute > 0 {
			state.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(d.cfg.MaxStartsPerMinute)), 1)
		}

		r.order = append(r.order, ep)
		r.servers[ep] = state
	}

	go r.execute()

	return r.results
}

func (r *run) execute() {
	// In-flight tests outlive ctx by the grace period.
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(r.ctx))
	defer cancelExec()

	var graceTimer *time.Timer

	stopGrace := context.AfterFunc(r.ctx, func() {
		r.mu.Lock()
		graceTimer = time.AfterFunc(r.d.cfg.GracePeriod, cancelExec)
		r.mu.Unlock()
	})

	r.execCtx = execCtx

	r.mu.Lock()
	for _, ep := range r.order {
		if len(r.servers[ep].queue) > 0 {
			r.spawnLocked(ep)
		}
	}
	r.mu.Unlock()

	_ = r.group.Wait()

	stopGrace()

	r.mu.Lock()
	if graceTimer != nil {
		graceTimer.Stop()
	}

	for _, ep := range r.order {
		r.abandoned += len(r.servers[ep].queue)
		r.servers[ep].queue = nil
	}

	abandoned := r.abandoned
	r.mu.Unlock()

	if r.ctx.Err() != nil || abandoned > 0 {
		r.d.listener.OnEvent(events.NewRunCancelled(abandoned))
	}

	r.d.log.WithField("abandoned", abandoned).Debug("All workers stopped")

	close(r.results)
}

// spawnLocked starts a worker for ep. Callers hold r.mu.
func (r *run) spawnLocked(ep string) {
	state := r.servers[ep]
	if state.running {
		return
	}

	state.running = true

	r.group.Go(func() error {
		r.work(state.server)

		return nil
	})
}

// emit publishes a result. The channel is sized for one result per test so
// this never blocks.
func (r *run) emit(result *model.RunResult) {
	r.d.listener.OnEvent(events.NewTestFinished(result))
	r.results <- result
}
