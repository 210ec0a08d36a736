package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/weiawesome/chat-relay/internal/broker"
	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/internal/deadletter"
	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/pkg/log"
)

// Forwarder delivers an encoded frame to every subscriber of a room.
type Forwarder interface {
	Broadcast(ctx context.Context, roomCode string, payload []byte) error
}

type OutcomeKind int

const (
	Forwarded OutcomeKind = iota
	Retrying
	DeadLettered
	Duplicate
)

func (k OutcomeKind) String() string {
	switch k {
	case Forwarded:
		return "forwarded"
	case Retrying:
		return "retrying"
	case DeadLettered:
		return "dead_lettered"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Outcome is the result of one forward attempt for a record.
type Outcome struct {
	Kind    OutcomeKind
	Attempt int
	Err     error
}

type Stats struct {
	Forwarded      int64 `json:"forwarded"`
	Retried        int64 `json:"retried"`
	DeadLettered   int64 `json:"dead_lettered"`
	Duplicates     int64 `json:"duplicates"`
	CommitFailures int64 `json:"commit_failures"`
}

type Options struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

func OptionsFromConfig(cfg config.BridgeConfig) Options {
	return Options{
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		MaxBackoff:   cfg.MaxBackoff,
	}
}

// Bridge consumes the message topic and forwards each record to the
// fan-out. A record's offset is committed only after it was forwarded or
// durably dead-lettered.
type Bridge struct {
	source    broker.Source
	forwarder Forwarder
	sink      deadletter.Sink
	dedup     Deduper
	opts      Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	forwarded      atomic.Int64
	retried        atomic.Int64
	deadLettered   atomic.Int64
	duplicates     atomic.Int64
	commitFailures atomic.Int64
}

type Option func(*Bridge)

// WithDeduper enables duplicate suppression by message id.
func WithDeduper(d Deduper) Option {
	return func(b *Bridge) { b.dedup = d }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Bridge) { b.sleep = sleep }
}

func New(source broker.Source, forwarder Forwarder, sink deadletter.Sink, opts Options, options ...Option) *Bridge {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff < opts.RetryBackoff {
		opts.MaxBackoff = opts.RetryBackoff
	}

	b := &Bridge{
		source:    source,
		forwarder: forwarder,
		sink:      sink,
		opts:      opts,
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, o := range options {
		o(b)
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run processes records until ctx is cancelled or the source is closed.
func (b *Bridge) Run(ctx context.Context) error {
	l := log.Ctx(ctx)
	l.Info().Int("max_attempts", b.opts.MaxAttempts).Msg("bridge started")

	fetchFailures := 0
	for {
		rec, err := b.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, broker.ErrClosed) {
				l.Info().Msg("bridge stopped")
				return nil
			}
			fetchFailures++
			l.Error().Err(err).Int(log.FieldAttempt, fetchFailures).Msg("fetch failed")
			if err := b.sleep(ctx, b.backoff(fetchFailures)); err != nil {
				return nil
			}
			continue
		}
		fetchFailures = 0

		if _, err := b.Handle(ctx, rec); err != nil {
			if ctx.Err() != nil {
				l.Info().Msg("bridge stopped")
				return nil
			}
			l.Error().Err(err).
				Int32(log.FieldPartition, rec.Partition).
				Int64(log.FieldOffset, rec.Offset).
				Msg("record not committed")
		}
	}
}

// Handle drives one record to a final outcome: forwarded, duplicate or
// dead-lettered. The record is committed afterwards. An error means the
// record was not committed and will be redelivered.
func (b *Bridge) Handle(ctx context.Context, rec broker.Record) (Outcome, error) {
	var out Outcome
	for {
		out = b.Attempt(ctx, &rec)
		if out.Kind != Retrying {
			break
		}
		if err := b.sleep(ctx, b.backoff(out.Attempt)); err != nil {
			return out, err
		}
	}

	if out.Kind == DeadLettered {
		if err := b.deadLetter(ctx, rec, out.Err); err != nil {
			return out, err
		}
	}

	if err := b.source.Commit(ctx, rec); err != nil {
		b.commitFailures.Add(1)
		return out, &domain.BrokerForwardError{
			Stage:     domain.StageCommit,
			RoomCode:  rec.Key,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Attempt:   out.Attempt,
			Err:       err,
		}
	}
	return out, nil
}

// Attempt makes one forward attempt and increments rec.Attempt. It returns
// DeadLettered once attempts are exhausted; the caller writes the letter.
func (b *Bridge) Attempt(ctx context.Context, rec *broker.Record) Outcome {
	rec.Attempt++
	l := log.Ctx(ctx)

	err := b.forward(ctx, rec)
	if err == nil {
		b.forwarded.Add(1)
		return Outcome{Kind: Forwarded, Attempt: rec.Attempt}
	}
	if errors.Is(err, errDuplicate) {
		b.duplicates.Add(1)
		return Outcome{Kind: Duplicate, Attempt: rec.Attempt}
	}

	stage, id := "", ""
	var fwdErr *domain.BrokerForwardError
	if errors.As(err, &fwdErr) {
		stage, id = fwdErr.Stage, fwdErr.MessageID
	}

	event := l.Warn()
	if rec.Attempt >= b.opts.MaxAttempts {
		event = l.Error()
	}
	event.Err(err).
		Str(log.FieldRoomCode, rec.Key).
		Str(log.FieldStage, stage).
		Str(log.FieldMessageID, id).
		Int32(log.FieldPartition, rec.Partition).
		Int64(log.FieldOffset, rec.Offset).
		Int(log.FieldAttempt, rec.Attempt).
		Msg("forward failed")

	if rec.Attempt >= b.opts.MaxAttempts {
		return Outcome{Kind: DeadLettered, Attempt: rec.Attempt, Err: err}
	}
	b.retried.Add(1)
	return Outcome{Kind: Retrying, Attempt: rec.Attempt, Err: err}
}

var errDuplicate = errors.New("duplicate message")

func (b *Bridge) forward(ctx context.Context, rec *broker.Record) error {
	fail := func(stage, room, id string, err error) error {
		return &domain.BrokerForwardError{
			Stage:     stage,
			RoomCode:  room,
			MessageID: id,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Attempt:   rec.Attempt,
			Err:       err,
		}
	}

	msg, err := domain.DecodeChatMessage(rec.Value)
	if err != nil {
		return fail(domain.StageDecode, rec.Key, "", err)
	}

	if b.dedup != nil && msg.ID != "" {
		seen, err := b.dedup.Seen(ctx, msg.ID)
		if err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("dedup check failed, forwarding anyway")
		} else if seen {
			return errDuplicate
		}
	}

	payload, err := json.Marshal(domain.NewMessageFrame(msg))
	if err != nil {
		return fail(domain.StageDecode, msg.RoomCode, msg.ID, err)
	}

	if err := b.forwarder.Broadcast(ctx, msg.RoomCode, payload); err != nil {
		return fail(domain.StageForward, msg.RoomCode, msg.ID, err)
	}

	if b.dedup != nil && msg.ID != "" {
		if err := b.dedup.Mark(ctx, msg.ID); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("dedup mark failed")
		}
	}
	return nil
}

// deadLetter writes the letter, retrying until it succeeds or ctx ends.
func (b *Bridge) deadLetter(ctx context.Context, rec broker.Record, cause error) error {
	room, id, stage := rec.Key, "", domain.StageForward
	var fwdErr *domain.BrokerForwardError
	if errors.As(cause, &fwdErr) {
		room, id, stage = fwdErr.RoomCode, fwdErr.MessageID, fwdErr.Stage
	}
	letter := deadletter.NewLetter(rec, room, id, stage, cause, b.now())

	l := log.Ctx(ctx)
	for attempt := 1; ; attempt++ {
		err := b.sink.Write(ctx, letter)
		if err == nil {
			b.deadLettered.Add(1)
			l.Error().
				Str(log.FieldRoomCode, letter.RoomCode).
				Str(log.FieldMessageID, letter.MessageID).
				Str(log.FieldStage, letter.Stage).
				Int32(log.FieldPartition, rec.Partition).
				Int64(log.FieldOffset, rec.Offset).
				Int(log.FieldAttempt, rec.Attempt).
				Msg("record dead-lettered")
			return nil
		}

		l.Error().Err(err).
			Str(log.FieldRoomCode, letter.RoomCode).
			Str(log.FieldStage, domain.StageDeadLetter).
			Int64(log.FieldOffset, rec.Offset).
			Int(log.FieldAttempt, attempt).
			Msg("dead-letter write failed")

		if err := b.sleep(ctx, b.backoff(attempt)); err != nil {
			return fmt.Errorf("dead-letter write abandoned: %w", err)
		}
	}
}

func (b *Bridge) backoff(attempt int) time.Duration {
	d := b.opts.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.opts.MaxBackoff {
			return b.opts.MaxBackoff
		}
	}
	return d
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Forwarded:      b.forwarded.Load(),
		Retried:        b.retried.Load(),
		DeadLettered:   b.deadLettered.Load(),
		Duplicates:     b.duplicates.Load(),
		CommitFailures: b.commitFailures.Load(),
	}
}
