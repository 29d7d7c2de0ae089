package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jrjohn/arcana-queue/internal/jobs"
	"github.com/jrjohn/arcana-queue/internal/jobs/container"
	"github.com/jrjohn/arcana-queue/pkg/logger"
)

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name string // used in logs
	Size int    // number of execution units
}

// Stats contains worker pool statistics
type Stats struct {
	Size      int   `json:"size"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type task struct {
	seq   uint64
	ctx   context.Context
	msg   Message
	reply chan Message
}

// Pool owns a fixed set of execution units. A submission goes to the first
// idle unit or waits in a FIFO backlog; a unit that finishes takes the next
// backlog entry before it is marked idle again.
type Pool struct {
	name    string
	size    int
	logger  *zap.Logger
	units   []*unit
	replies chan envelope

	mu         sync.Mutex
	idle       *container.Ring[int]
	backlog    *container.Deque[*task]
	assigned   map[uint64]*task
	seq        uint64
	closed     bool
	terminated bool
	quiet      chan struct{}

	completed atomic.Int64
	failed    atomic.Int64

	unitsDone  sync.WaitGroup
	routerDone chan struct{}
}

// NewPool starts cfg.Size units running fn
func NewPool(fn Func, cfg PoolConfig, log *zap.Logger) *Pool {
	if cfg.Size < 1 {
		cfg.Size = 1
	}

	p := &Pool{
		name:       cfg.Name,
		size:       cfg.Size,
		logger:     logger.OrNop(log).With(zap.String("pool", cfg.Name)),
		replies:    make(chan envelope, cfg.Size),
		idle:       container.NewRing[int](cfg.Size),
		backlog:    container.NewDeque[*task](),
		assigned:   make(map[uint64]*task),
		routerDone: make(chan struct{}),
	}

	for i := 0; i < cfg.Size; i++ {
		u := newUnit(i, fn, p.replies)
		p.units = append(p.units, u)
		p.idle.Push(i)
		p.unitsDone.Add(1)
		go func() {
			defer p.unitsDone.Done()
			u.loop()
		}()
	}
	go p.route()

	p.logger.Debug("Worker pool started", zap.Int("size", cfg.Size))
	return p
}

// Size returns the number of execution units
func (p *Pool) Size() int { return p.size }

// Submit sends a run message and returns the channel its reply arrives on.
// The channel receives exactly one message.
func (p *Pool) Submit(ctx context.Context, id string, data any) (<-chan Message, error) {
	return p.send(ctx, Message{ID: id, Type: MessageRun, Data: data})
}

func (p *Pool) send(ctx context.Context, msg Message) (<-chan Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, jobs.ErrPoolTerminated.WithMessagef("worker pool %q is shut down", p.name)
	}

	p.seq++
	t := &task{seq: p.seq, ctx: ctx, msg: msg, reply: make(chan Message, 1)}

	if u, ok := p.idle.Pop(); ok {
		p.assignLocked(u, t)
	} else {
		p.backlog.PushBack(t)
	}
	return t.reply, nil
}

// assignLocked hands t to unit u. The unit is idle so its inbox has room.
func (p *Pool) assignLocked(u int, t *task) {
	p.assigned[t.seq] = t
	p.units[u].inbox <- envelope{seq: t.seq, unit: u, ctx: t.ctx, msg: t.msg}
}

// nextLocked returns the next live backlog task, replying to any whose
// context ended while it waited.
func (p *Pool) nextLocked() (*task, bool) {
	for {
		t, ok := p.backlog.PopFront()
		if !ok {
			return nil, false
		}
		if err := t.ctx.Err(); err != nil {
			t.reply <- Message{ID: t.msg.ID, Type: MessageError, Err: err}
			continue
		}
		return t, true
	}
}

func (p *Pool) route() {
	defer close(p.routerDone)

	for env := range p.replies {
		p.mu.Lock()
		t, ok := p.assigned[env.seq]
		if ok {
			delete(p.assigned, env.seq)
		}
		if !p.terminated {
			if next, ok := p.nextLocked(); ok {
				p.assignLocked(env.unit, next)
			} else {
				p.idle.Push(env.unit)
			}
		}
		if p.quiet != nil && len(p.assigned) == 0 {
			close(p.quiet)
			p.quiet = nil
		}
		p.mu.Unlock()

		if !ok {
			// rejected by Terminate while the unit was still busy
			continue
		}
		switch env.msg.Type {
		case MessageResult:
			p.completed.Add(1)
		case MessageError:
			p.failed.Add(1)
		}
		t.reply <- env.msg
	}
}

// Run submits data and waits for the reply or ctx
func (p *Pool) Run(ctx context.Context, id string, data any) (any, error) {
	ch, err := p.Submit(ctx, id, data)
	if err != nil {
		return nil, err
	}

	select {
	case msg := <-ch:
		if msg.Type == MessageError {
			return nil, msg.Err
		}
		return msg.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Map runs every item through the pool and returns results in input order.
// At most Size items are outstanding at once; the first error cancels the
// items not yet submitted and is returned.
func (p *Pool) Map(ctx context.Context, items []any) ([]any, error) {
	results := make([]any, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			res, err := p.Run(gctx, fmt.Sprintf("%s-map-%d", p.name, i), item)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Ping checks that an execution unit answers
func (p *Pool) Ping(ctx context.Context) error {
	ch, err := p.send(ctx, Message{ID: "ping", Type: MessagePing})
	if err != nil {
		return err
	}

	select {
	case msg := <-ch:
		if msg.Type != MessagePong {
			return fmt.Errorf("unexpected ping reply %q: %w", msg.Type, msg.Err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:      p.size,
		Active:    len(p.assigned),
		Queued:    p.backlog.Len(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Shutdown stops intake, rejects the backlog with ErrPoolTerminated and
// waits for assigned work to finish. If ctx ends first the remaining work is
// terminated and ctx's error returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	rejected := p.rejectBacklogLocked(jobs.ErrPoolTerminated)

	var quiet chan struct{}
	if len(p.assigned) > 0 {
		if p.quiet == nil {
			p.quiet = make(chan struct{})
		}
		quiet = p.quiet
	}
	p.mu.Unlock()

	p.logger.Debug("Worker pool shutting down", zap.Int("rejected", rejected))

	var err error
	if quiet != nil {
		select {
		case <-quiet:
		case <-ctx.Done():
			err = ctx.Err()
			p.logger.Warn("Worker pool shutdown timed out")
		}
	}

	p.Terminate(jobs.ErrPoolTerminated)
	return err
}

// Terminate stops every unit without waiting. Backlogged and assigned
// submissions receive an error reply with cause (ErrPoolTerminated when nil).
// A unit busy in fn keeps running until fn returns; its result is dropped.
// It returns the number of submissions rejected.
func (p *Pool) Terminate(cause error) int {
	if cause == nil {
		cause = jobs.ErrPoolTerminated
	}

	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return 0
	}
	p.closed = true
	p.terminated = true

	n := p.rejectBacklogLocked(cause)
	for seq, t := range p.assigned {
		t.reply <- rejection(t.msg.ID, cause)
		delete(p.assigned, seq)
		n++
	}
	for _, u := range p.units {
		close(u.inbox)
	}
	if p.quiet != nil {
		close(p.quiet)
		p.quiet = nil
	}
	p.mu.Unlock()

	go func() {
		p.unitsDone.Wait()
		close(p.replies)
	}()

	p.logger.Debug("Worker pool terminated", zap.Int("rejected", n))
	return n
}

func (p *Pool) rejectBacklogLocked(cause error) int {
	tasks := p.backlog.Drain()
	for _, t := range tasks {
		t.reply <- rejection(t.msg.ID, cause)
	}
	return len(tasks)
}

func rejection(id string, cause error) Message {
	return Message{ID: id, Type: MessageError, Err: cause, Rejected: true}
}

// Done is closed once every unit has exited after Terminate
func (p *Pool) Done() <-chan struct{} {
	return p.routerDone
}
