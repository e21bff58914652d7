package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

const (
	StreamPrefix = "sheetflow:"
	GroupName    = "sheetflow-workers"
	ClaimTimeout = 5 * time.Minute
)

// promoteScript moves due entries from the delayed set back onto the stream.
var promoteScript = valkey.NewLuaScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(due) do
	redis.call('XADD', KEYS[2], '*', 'data', m)
	redis.call('ZREM', KEYS[1], m)
end
return #due`)

// Message is one delivered stream entry. Job is nil when the entry could not
// be decoded; Err then says why.
type Message struct {
	ID      string
	Data    string
	Job     Job
	Attempt int
	Err     error
}

// Stats is a point-in-time view of one queue.
type Stats struct {
	Kind    Kind  `json:"kind"`
	Length  int64 `json:"length"`
	Pending int64 `json:"pending"`
	Delayed int64 `json:"delayed"`
	Dead    int64 `json:"dead"`
}

// Queue is one Valkey stream with a consumer group, a sorted set of delayed
// retries and a dead-letter stream.
type Queue struct {
	client  valkey.Client
	kind    Kind
	stream  string
	delayed string
	dead    string
	logger  *slog.Logger
}

func NewQueue(client valkey.Client, kind Kind, logger *slog.Logger) *Queue {
	return newQueue(client, StreamPrefix, kind, logger)
}

func newQueue(client valkey.Client, prefix string, kind Kind, logger *slog.Logger) *Queue {
	stream := prefix + string(kind)
	return &Queue{
		client:  client,
		kind:    kind,
		stream:  stream,
		delayed: stream + ":delayed",
		dead:    stream + ":dead",
		logger:  logger,
	}
}

func (q *Queue) Kind() Kind { return q.kind }

// EnsureGroup creates the consumer group if it doesn't exist.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	resp := q.client.Do(ctx, q.client.B().XgroupCreate().
		Key(q.stream).Group(GroupName).Id("0").Mkstream().Build())
	if err := resp.Error(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s: %w", q.stream, err)
	}
	return nil
}

// Add appends job to the stream for immediate delivery.
func (q *Queue) Add(ctx context.Context, job Job, attempt int) (string, error) {
	data, err := Encode(job, attempt)
	if err != nil {
		return "", err
	}
	resp := q.client.Do(ctx, q.client.B().Xadd().
		Key(q.stream).Id("*").
		FieldValue().FieldValue("data", data).
		Build())
	if err := resp.Error(); err != nil {
		return "", fmt.Errorf("xadd %s: %w", q.stream, err)
	}
	id, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("parse xadd response: %w", err)
	}
	return id, nil
}

// Schedule parks job in the delayed set until at.
func (q *Queue) Schedule(ctx context.Context, job Job, attempt int, at time.Time) error {
	data, err := Encode(job, attempt)
	if err != nil {
		return err
	}
	resp := q.client.Do(ctx, q.client.B().Zadd().Key(q.delayed).
		ScoreMember().ScoreMember(float64(at.UnixMilli()), data).Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("zadd %s: %w", q.delayed, err)
	}
	return nil
}

// PromoteDue moves up to limit delayed jobs whose time has come onto the stream.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time, limit int) (int, error) {
	n, err := promoteScript.Exec(ctx, q.client, []string{q.delayed, q.stream},
		[]string{strconv.FormatInt(now.UnixMilli(), 10), strconv.Itoa(limit)}).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("promote %s: %w", q.delayed, err)
	}
	if n > 0 {
		jobsPromoted.WithLabelValues(string(q.kind)).Add(float64(n))
	}
	return int(n), nil
}

// Read blocks up to block for new entries for consumer.
func (q *Queue) Read(ctx context.Context, consumer string, count int, block time.Duration) ([]Message, error) {
	resp := q.client.Do(ctx, q.client.B().Xreadgroup().
		Group(GroupName, consumer).
		Count(int64(count)).Block(block.Milliseconds()).
		Streams().Key(q.stream).Id(">").
		Build())
	return q.readResult(resp)
}

// Pending returns entries previously delivered to consumer but not acked.
func (q *Queue) Pending(ctx context.Context, consumer string, count int) ([]Message, error) {
	resp := q.client.Do(ctx, q.client.B().Xreadgroup().
		Group(GroupName, consumer).
		Count(int64(count)).
		Streams().Key(q.stream).Id("0").
		Build())
	return q.readResult(resp)
}

func (q *Queue) readResult(resp valkey.ValkeyResult) ([]Message, error) {
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", q.stream, err)
	}
	results, err := resp.AsXRead()
	if err != nil {
		return nil, fmt.Errorf("parse xreadgroup response: %w", err)
	}
	var msgs []Message
	for _, entries := range results {
		for _, e := range entries {
			msgs = append(msgs, toMessage(e))
		}
	}
	return msgs, nil
}

// Claim takes over entries that have been idle longer than minIdle in any
// consumer's pending list, typically left behind by a crashed worker.
func (q *Queue) Claim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]Message, error) {
	resp := q.client.Do(ctx, q.client.B().Xautoclaim().
		Key(q.stream).Group(GroupName).Consumer(consumer).
		MinIdleTime(strconv.FormatInt(minIdle.Milliseconds(), 10)).Start("0-0").
		Count(int64(count)).Build())
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("xautoclaim %s: %w", q.stream, err)
	}
	arr, err := resp.ToArray()
	if err != nil || len(arr) < 2 {
		return nil, fmt.Errorf("parse xautoclaim response: %w", err)
	}
	entries, err := arr[1].AsXRange()
	if err != nil {
		return nil, fmt.Errorf("parse xautoclaim entries: %w", err)
	}
	msgs := make([]Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, toMessage(e))
	}
	if len(msgs) > 0 {
		jobsClaimed.WithLabelValues(string(q.kind)).Add(float64(len(msgs)))
	}
	return msgs, nil
}

// Deliveries returns how many times id has been delivered to the group, or
// 0 when it is no longer pending.
func (q *Queue) Deliveries(ctx context.Context, id string) (int, error) {
	resp := q.client.Do(ctx, q.client.B().Xpending().
		Key(q.stream).Group(GroupName).Start(id).End(id).Count(1).Build())
	rows, err := resp.ToArray()
	if err != nil {
		return 0, fmt.Errorf("xpending %s %s: %w", q.stream, id, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	fields, err := rows[0].ToArray()
	if err != nil || len(fields) < 4 {
		return 0, fmt.Errorf("parse xpending entry %s: %w", id, err)
	}
	n, err := fields[3].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("parse xpending delivery count %s: %w", id, err)
	}
	return int(n), nil
}

func toMessage(e valkey.XRangeEntry) Message {
	m := Message{ID: e.ID}
	data, ok := e.FieldValues["data"]
	if !ok {
		m.Err = fmt.Errorf("message %s missing data field", e.ID)
		return m
	}
	m.Data = data
	m.Job, m.Attempt, m.Err = Decode(data)
	return m
}

func (q *Queue) Ack(ctx context.Context, id string) error {
	resp := q.client.Do(ctx, q.client.B().Xack().
		Key(q.stream).Group(GroupName).Id(id).Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("xack %s: %w", id, err)
	}
	return nil
}

// DeadLetter records a terminally failed entry with its last error.
func (q *Queue) DeadLetter(ctx context.Context, msg Message, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	resp := q.client.Do(ctx, q.client.B().Xadd().
		Key(q.dead).Id("*").
		FieldValue().
		FieldValue("data", msg.Data).
		FieldValue("source_id", msg.ID).
		FieldValue("error", reason).
		FieldValue("failed_at", time.Now().UTC().Format(time.RFC3339)).
		Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("xadd %s: %w", q.dead, err)
	}
	return nil
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Kind: q.kind}
	var err error
	if st.Length, err = q.client.Do(ctx, q.client.B().Xlen().Key(q.stream).Build()).AsInt64(); err != nil {
		return st, fmt.Errorf("xlen %s: %w", q.stream, err)
	}
	if st.Delayed, err = q.client.Do(ctx, q.client.B().Zcard().Key(q.delayed).Build()).AsInt64(); err != nil {
		return st, fmt.Errorf("zcard %s: %w", q.delayed, err)
	}
	if st.Dead, err = q.client.Do(ctx, q.client.B().Xlen().Key(q.dead).Build()).AsInt64(); err != nil {
		return st, fmt.Errorf("xlen %s: %w", q.dead, err)
	}

	resp := q.client.Do(ctx, q.client.B().Xpending().Key(q.stream).Group(GroupName).Build())
	if err := resp.Error(); err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return st, nil
		}
		return st, fmt.Errorf("xpending %s: %w", q.stream, err)
	}
	arr, err := resp.ToArray()
	if err == nil && len(arr) > 0 {
		st.Pending, _ = arr[0].AsInt64()
	}
	return st, nil
}

// Purge deletes the stream, delayed retries and dead letters, then
// recreates an empty consumer group.
func (q *Queue) Purge(ctx context.Context) error {
	resp := q.client.Do(ctx, q.client.B().Del().Key(q.stream, q.delayed, q.dead).Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("purge %s: %w", q.stream, err)
	}
	// Running consumers need the group back.
	return q.EnsureGroup(ctx)
}
