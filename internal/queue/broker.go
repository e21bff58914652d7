package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/valkey-io/valkey-go"
)

// Enqueuer submits jobs. Stages depend on this rather than on Broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Broker owns the three stage queues and routes jobs by kind.
type Broker struct {
	queues map[Kind]*Queue
}

func NewBroker(client valkey.Client, logger *slog.Logger) *Broker {
	b := &Broker{queues: make(map[Kind]*Queue, 3)}
	for _, k := range Kinds() {
		b.queues[k] = NewQueue(client, k, logger)
	}
	return b
}

// Kinds lists the queues in pipeline order.
func Kinds() []Kind {
	return []Kind{KindIntake, KindDecompose, KindRow}
}

func (b *Broker) Queue(k Kind) *Queue {
	return b.queues[k]
}

func (b *Broker) EnsureGroups(ctx context.Context) error {
	for _, k := range Kinds() {
		if err := b.queues[k].EnsureGroup(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue adds job as its first attempt.
func (b *Broker) Enqueue(ctx context.Context, job Job) error {
	if job == nil {
		return fmt.Errorf("enqueue: nil job")
	}
	q, ok := b.queues[job.Kind()]
	if !ok {
		return fmt.Errorf("enqueue: no queue for kind %q", job.Kind())
	}
	_, err := q.Add(ctx, job, 1)
	return err
}

func (b *Broker) Stats(ctx context.Context) ([]Stats, error) {
	out := make([]Stats, 0, len(b.queues))
	for _, k := range Kinds() {
		st, err := b.queues[k].Stats(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (b *Broker) Purge(ctx context.Context) error {
	for _, k := range Kinds() {
		if err := b.queues[k].Purge(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the broker's Valkey connection.
func (b *Broker) Ping(ctx context.Context) error {
	q := b.queues[KindIntake]
	return q.client.Do(ctx, q.client.B().Ping().Build()).Error()
}
