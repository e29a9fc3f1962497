package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/model"
)

// Attempt is one gateway call in a stage's fallback chain.
type Attempt[Req, Res any] struct {
	Source  string
	Timeout time.Duration
	Call    func(ctx context.Context, req Req) (Res, error)
}

// Outcome is how a stage ended. Source is empty when no gateway produced
// the value, which only happens for a degraded terminal result.
type Outcome[Res any] struct {
	Value    Res
	Source   string
	Degraded bool
	Tried    []string
	Duration time.Duration
}

// StageResult renders the outcome as a provenance entry.
func (o Outcome[Res]) StageResult(key, stage string) model.StageResult {
	r := model.StageResult{
		Key:        key,
		Stage:      stage,
		Source:     o.Source,
		Outcome:    model.OutcomeOK,
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Degraded {
		r.Outcome = model.OutcomeDegraded
		r.ErrorKind = string(failure.DegradedResult)
	}
	return r
}

// Stage runs an ordered list of attempts until one returns an acceptable
// result, then persists it before returning.
type Stage[Req, Res any] struct {
	Name     string
	Attempts []Attempt[Req, Res]
	// Acceptable decides whether a successful call's result is good
	// enough to stop the chain.
	Acceptable func(Res) bool
	// Persist writes the winning outcome to the report.
	Persist func(ctx context.Context, out Outcome[Res]) error
	// Exhausted, when set, supplies the terminal result a stage settles
	// for after every attempt failed. It is persisted and marked degraded.
	Exhausted func() Res
	// Mandatory stages fail with NoUsableData when exhausted; others fail
	// with DegradedResult.
	Mandatory bool
	Observer  Observer
}

// Execute runs the stage. Fatal errors from a gateway (invalid input,
// internal inconsistency) stop the chain at once; anything else moves on
// to the next attempt.
func (s Stage[Req, Res]) Execute(ctx context.Context, req Req) (Outcome[Res], error) {
	obs := s.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	start := time.Now()
	var out Outcome[Res]
	var lastErr error

	for _, a := range s.Attempts {
		if err := ctx.Err(); err != nil {
			return out, eris.Wrapf(err, "pipeline: %s canceled", s.Name)
		}
		out.Tried = append(out.Tried, a.Source)

		res, err := s.call(ctx, a, req)
		elapsed := time.Since(start)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return out, eris.Wrapf(ctx.Err(), "pipeline: %s canceled", s.Name)
			}
			obs.Attempt(s.Name, a.Source, attemptFailed, elapsed)
			kind := failure.KindOf(err)
			zap.L().Warn("pipeline: stage attempt failed",
				zap.String("stage", s.Name),
				zap.String("source", a.Source),
				zap.String("error_kind", string(kind)),
				zap.Bool("timeout", failure.Timeout(err)),
				zap.Error(err),
			)
			if kind.Fatal() {
				return out, withStage(err, s.Name, a.Source)
			}
			lastErr = err
			continue
		case s.Acceptable != nil && !s.Acceptable(res):
			obs.Attempt(s.Name, a.Source, attemptRejected, elapsed)
			zap.L().Info("pipeline: stage result not acceptable",
				zap.String("stage", s.Name),
				zap.String("source", a.Source),
			)
			lastErr = eris.Errorf("%s returned an unacceptable result", a.Source)
			continue
		}

		obs.Attempt(s.Name, a.Source, attemptAccepted, elapsed)
		out.Value, out.Source, out.Duration = res, a.Source, time.Since(start)
		if err := s.persist(ctx, out); err != nil {
			return out, err
		}
		return out, nil
	}

	if lastErr == nil {
		lastErr = eris.New("no sources configured")
	}
	if s.Exhausted != nil {
		out.Value, out.Source, out.Degraded, out.Duration = s.Exhausted(), "", true, time.Since(start)
		if err := s.persist(ctx, out); err != nil {
			return out, err
		}
		return out, nil
	}

	out.Duration = time.Since(start)
	kind := failure.DegradedResult
	if s.Mandatory {
		kind = failure.NoUsableData
	}
	return out, &failure.Error{Kind: kind, Stage: s.Name, Err: lastErr}
}

func (s Stage[Req, Res]) call(ctx context.Context, a Attempt[Req, Res], req Req) (Res, error) {
	if a.Timeout <= 0 {
		return a.Call(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	return a.Call(callCtx, req)
}

func (s Stage[Req, Res]) persist(ctx context.Context, out Outcome[Res]) error {
	if s.Persist == nil {
		return nil
	}
	if err := s.Persist(ctx, out); err != nil {
		return &failure.Error{
			Kind:  failure.InternalInconsistency,
			Stage: s.Name,
			Err:   eris.Wrapf(err, "pipeline: persist %s", s.Name),
		}
	}
	return nil
}

// withStage tags a classified error with the stage it surfaced in.
func withStage(err error, stage, source string) error {
	return &failure.Error{Kind: failure.KindOf(err), Stage: stage, Source: source, Err: err}
}
