package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrStalled marks a job whose earlier deliveries never finished, typically
// because the job crashed or hung its worker.
var ErrStalled = errors.New("job stalled")

// Handler processes jobs taken from a queue.
type Handler interface {
	Handle(ctx context.Context, job Job) error
	// Fail runs once when a job fails terminally, before it is dead-lettered.
	Fail(ctx context.Context, job Job, err error)
}

// backend is the part of *Queue a pool needs.
type backend interface {
	Kind() Kind
	Read(ctx context.Context, consumer string, count int, block time.Duration) ([]Message, error)
	Pending(ctx context.Context, consumer string, count int) ([]Message, error)
	Claim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]Message, error)
	Deliveries(ctx context.Context, id string) (int, error)
	Ack(ctx context.Context, id string) error
	Schedule(ctx context.Context, job Job, attempt int, at time.Time) error
	DeadLetter(ctx context.Context, msg Message, cause error) error
	PromoteDue(ctx context.Context, now time.Time, limit int) (int, error)
}

type PoolConfig struct {
	Consumer     string
	Concurrency  int
	Limiter      *rate.Limiter // nil means unlimited
	Policy       Policy
	ClaimTimeout time.Duration
	ReadBlock    time.Duration
	PromoteEvery time.Duration
}

// Pool runs Concurrency consumers against one queue. Each consumer has its
// own name in the group so it can recover its pending entries after a
// restart.
type Pool struct {
	q       backend
	handler Handler
	cfg     PoolConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewPool(q *Queue, handler Handler, cfg PoolConfig, logger *slog.Logger) *Pool {
	return newPool(q, handler, cfg, logger)
}

func newPool(q backend, handler Handler, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = ClaimTimeout
	}
	if cfg.ReadBlock <= 0 {
		cfg.ReadBlock = 5 * time.Second
	}
	if cfg.PromoteEvery <= 0 {
		cfg.PromoteEvery = 500 * time.Millisecond
	}
	if cfg.Policy.MaxAttempts < 1 {
		cfg.Policy = DefaultPolicy()
	}
	return &Pool{
		q:       q,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With(slog.String("queue", string(q.Kind()))),
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled. Entries being handled at shutdown stay
// pending and are recovered on the next start.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p.promote(ctx)
		return nil
	})
	for i := 0; i < p.cfg.Concurrency; i++ {
		consumer := fmt.Sprintf("%s-%s-%d", p.cfg.Consumer, p.q.Kind(), i)
		g.Go(func() error {
			p.consume(ctx, consumer)
			return nil
		})
	}

	p.logger.Info("pool started", slog.Int("concurrency", p.cfg.Concurrency))
	err := g.Wait()
	p.logger.Info("pool stopped")
	return err
}

func (p *Pool) promote(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PromoteEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.q.PromoteDue(ctx, p.now(), 100); err != nil && ctx.Err() == nil {
				p.logger.Warn("promote delayed jobs failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Pool) consume(ctx context.Context, consumer string) {
	// Drain entries this consumer left unacked in a previous run.
	pending, err := p.q.Pending(ctx, consumer, 100)
	if err != nil {
		p.logger.Warn("drain pending failed", slog.String("consumer", consumer), slog.String("error", err.Error()))
	}
	for _, msg := range pending {
		p.logger.Info("recovering pending message", slog.String("id", msg.ID))
		if !p.dispatch(ctx, p.redelivered(ctx, msg)) {
			return
		}
	}

	lastClaim := time.Time{}
	for ctx.Err() == nil {
		var msgs []Message
		if p.now().Sub(lastClaim) >= p.cfg.ClaimTimeout/2 {
			lastClaim = p.now()
			msgs, err = p.q.Claim(ctx, consumer, p.cfg.ClaimTimeout, 1)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("claim stale messages failed", slog.String("error", err.Error()))
			}
			for i, msg := range msgs {
				p.logger.Info("claimed stale message", slog.String("id", msg.ID))
				msgs[i] = p.redelivered(ctx, msg)
			}
		}
		if len(msgs) == 0 {
			msgs, err = p.q.Read(ctx, consumer, 1, p.cfg.ReadBlock)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Warn("read failed", slog.String("error", err.Error()))
				sleep(ctx, time.Second)
				continue
			}
		}
		for _, msg := range msgs {
			if !p.dispatch(ctx, msg) {
				return
			}
		}
	}
}

// redelivered counts each earlier delivery of a recovered entry as a spent
// attempt, so a job that keeps taking its worker down still hits the cap.
func (p *Pool) redelivered(ctx context.Context, msg Message) Message {
	if msg.Err != nil {
		return msg
	}
	n, err := p.q.Deliveries(ctx, msg.ID)
	if err != nil {
		p.logger.Warn("read delivery count failed", slog.String("id", msg.ID), slog.String("error", err.Error()))
		return msg
	}
	if n > 1 {
		msg.Attempt += n - 1
	}
	return msg
}

// dispatch waits for the rate limiter and processes msg. It returns false
// when the pool is shutting down.
func (p *Pool) dispatch(ctx context.Context, msg Message) bool {
	if p.cfg.Limiter != nil {
		if err := p.cfg.Limiter.Wait(ctx); err != nil {
			return false
		}
	}
	p.process(ctx, msg)
	return ctx.Err() == nil
}

func (p *Pool) process(ctx context.Context, msg Message) {
	kind := string(p.q.Kind())

	if msg.Err != nil {
		p.logger.Error("malformed message", slog.String("id", msg.ID), slog.String("error", msg.Err.Error()))
		jobsTotal.WithLabelValues(kind, "malformed").Inc()
		if err := p.q.DeadLetter(ctx, msg, msg.Err); err != nil {
			p.logger.Error("dead-letter failed", slog.String("id", msg.ID), slog.String("error", err.Error()))
			return
		}
		p.ack(ctx, msg.ID)
		return
	}

	if msg.Attempt > p.cfg.Policy.MaxAttempts {
		err := fmt.Errorf("%w: attempt %d of %d", ErrStalled, msg.Attempt, p.cfg.Policy.MaxAttempts)
		p.fail(ctx, msg, err, p.logger.With(slog.String("id", msg.ID), slog.Int("attempt", msg.Attempt), slog.String("error", err.Error())))
		return
	}

	start := p.now()
	err := p.handler.Handle(ctx, msg.Job)
	jobDuration.WithLabelValues(kind).Observe(p.now().Sub(start).Seconds())

	if err == nil {
		jobsTotal.WithLabelValues(kind, "succeeded").Inc()
		p.ack(ctx, msg.ID)
		return
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Shutdown mid-job: leave it pending for recovery.
		return
	}

	log := p.logger.With(slog.String("id", msg.ID), slog.Int("attempt", msg.Attempt), slog.String("error", err.Error()))

	if !IsPermanent(err) && !p.cfg.Policy.Exhausted(msg.Attempt) {
		delay := p.cfg.Policy.Delay(msg.Attempt)
		if serr := p.q.Schedule(ctx, msg.Job, msg.Attempt+1, p.now().Add(delay)); serr != nil {
			log.Error("schedule retry failed", slog.String("schedule_error", serr.Error()))
			return
		}
		log.Warn("job failed, retrying", slog.Duration("delay", delay))
		jobsTotal.WithLabelValues(kind, "retried").Inc()
		p.ack(ctx, msg.ID)
		return
	}

	p.fail(ctx, msg, err, log)
}

func (p *Pool) fail(ctx context.Context, msg Message, err error, log *slog.Logger) {
	log.Error("job failed terminally", slog.Bool("permanent", IsPermanent(err)))
	jobsTotal.WithLabelValues(string(p.q.Kind()), "failed").Inc()
	p.handler.Fail(ctx, msg.Job, err)
	if derr := p.q.DeadLetter(ctx, msg, err); derr != nil {
		log.Error("dead-letter failed", slog.String("dead_letter_error", derr.Error()))
	}
	p.ack(ctx, msg.ID)
}

func (p *Pool) ack(ctx context.Context, id string) {
	if err := p.q.Ack(ctx, id); err != nil {
		p.logger.Error("xack failed", slog.String("error", err.Error()), slog.String("id", id))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
