package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fanyang89/sql-insight/internal/logger"
)

const tracerName = "github.com/fanyang89/sql-insight/internal/scheduler"

// Annotation is what the scheduler needs to know about a successful payload
// to fill the record envelope.
type Annotation struct {
	SelectedLevel string
	SourceStatus  []SourceStatus
	Warnings      []string
}

// Options customise a Scheduler. Zero values are usable.
type Options[T any] struct {
	Engine         string
	RequestedLevel string
	// Annotate extracts envelope fields from a successful payload.
	Annotate func(T) Annotation
	Logger   *zerolog.Logger
	RunID    string
}

// Scheduler drives cycles of one Operation. Cycles and attempts never
// overlap; the only state kept across cycles is the run id and the cycle
// counter.
type Scheduler[T any] struct {
	cfg      Config
	op       Operation[T]
	runID    string
	engine   string
	level    string
	annotate func(T) Annotation
	log      zerolog.Logger
	tracer   trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Scheduler for op.
func New[T any](cfg Config, op Operation[T], opts Options[T]) *Scheduler[T] {
	s := &Scheduler[T]{
		cfg:      cfg,
		op:       op,
		runID:    opts.RunID,
		engine:   opts.Engine,
		level:    opts.RequestedLevel,
		annotate: opts.Annotate,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	if s.runID == "" {
		s.runID = NewRunID()
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	} else {
		s.log = logger.WithComponent("scheduler")
	}
	return s
}

// RunID is fixed for the scheduler's lifetime.
func (s *Scheduler[T]) RunID() string { return s.runID }

// Run executes cycles and hands each record to emit. Once mode runs one
// cycle; daemon mode runs until MaxCycles or until ctx is cancelled, which
// ends the loop cleanly after the current cycle.
func (s *Scheduler[T]) Run(ctx context.Context, emit func(Record[T]) error) error {
	for cycle := uint32(1); ; cycle++ {
		rec := s.RunCycle(ctx, cycle)
		if err := emit(rec); err != nil {
			return err
		}

		if s.cfg.Mode != ModeDaemon {
			return nil
		}
		if s.cfg.MaxCycles != nil && cycle >= *s.cfg.MaxCycles {
			s.log.Info().Uint32("cycles", cycle).Msg("max cycles reached")
			return nil
		}

		wait := JitteredInterval(s.cfg.Interval(), s.cfg.JitterPct)
		s.log.Debug().Dur("sleep", wait).Uint32("next_cycle", cycle+1).Msg("waiting for next cycle")
		if err := s.sleep(ctx, wait); err != nil {
			s.log.Info().Uint32("cycles", cycle).Msg("stopping: context cancelled")
			return nil
		}
	}
}

// RunCycle performs up to retry_times+1 sequential attempts and assembles
// the record. It stops at the first success.
func (s *Scheduler[T]) RunCycle(ctx context.Context, cycle uint32) Record[T] {
	ctx, span := s.tracer.Start(ctx, "scheduler.cycle", trace.WithAttributes(
		attribute.String("run_id", s.runID),
		attribute.Int64("cycle", int64(cycle)),
		attribute.String("engine", s.engine),
	))
	defer span.End()

	start := s.now()
	rec := Record[T]{
		ContractVersion: ContractVersion,
		RunID:           s.runID,
		Cycle:           cycle,
		Engine:          s.engine,
		RequestedLevel:  s.level,
		Schedule:        s.cfg,
		Attempts:        []AttemptTrace{},
		SourceStatus:    []SourceStatus{},
		Warnings:        []string{},
		Status:          StatusFailed,
	}

	var lastErr error
	total := s.cfg.Attempts()
	for attempt := uint32(1); attempt <= total; attempt++ {
		payload, tr, err := s.attempt(ctx, attempt)
		rec.Attempts = append(rec.Attempts, tr)

		if err == nil {
			lastErr = nil
			rec.Status = StatusOK
			rec.Payload = &payload
			if s.annotate != nil {
				a := s.annotate(payload)
				if a.SelectedLevel != "" {
					rec.SelectedLevel = strPtr(a.SelectedLevel)
				}
				if a.SourceStatus != nil {
					rec.SourceStatus = a.SourceStatus
				}
				if a.Warnings != nil {
					rec.Warnings = a.Warnings
				}
			}
			break
		}

		lastErr = err
		s.log.Warn().Err(err).
			Uint32("cycle", cycle).
			Uint32("attempt", attempt).
			Uint32("max_attempts", total).
			Msg("collection attempt failed")

		if attempt == total || ctx.Err() != nil {
			break
		}
		if err := s.sleep(ctx, s.cfg.Backoff()); err != nil {
			break
		}
	}

	if lastErr != nil {
		rec.Error = strPtr(lastErr.Error())
		span.SetStatus(codes.Error, lastErr.Error())
	}

	end := s.now()
	rec.Window = ScheduleWindow{
		StartUnixMs: start.UnixMilli(),
		EndUnixMs:   end.UnixMilli(),
		DurationMs:  end.Sub(start).Milliseconds(),
	}

	ev := s.log.Info()
	if !rec.OK() {
		ev = s.log.Error()
	}
	ev.Uint32("cycle", cycle).
		Str("status", rec.Status).
		Int("attempts", len(rec.Attempts)).
		Int64("duration_ms", rec.Window.DurationMs).
		Msg("cycle finished")

	return rec
}

func (s *Scheduler[T]) attempt(ctx context.Context, n uint32) (T, AttemptTrace, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.attempt", trace.WithAttributes(
		attribute.Int64("attempt", int64(n)),
	))
	defer span.End()

	start := s.now()
	payload, err := RunWithTimeout(ctx, s.cfg.Timeout(), s.op)
	tr := AttemptTrace{
		Attempt:    n,
		DurationMs: s.now().Sub(start).Milliseconds(),
		Status:     StatusOK,
	}
	if err != nil {
		tr.Status = StatusFailed
		tr.Error = strPtr(err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return payload, tr, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
