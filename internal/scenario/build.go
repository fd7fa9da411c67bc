package scenario

import (
	"context"
	"time"

	"github.com/msageha/stepflow/internal/actor"
	"github.com/msageha/stepflow/internal/effects"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/scheduler"
	"github.com/msageha/stepflow/internal/step"
)

// Builder turns feature files into suites bound to one scheduler instance.
type Builder struct {
	sc *scheduler.Context
	I  *actor.Actor
}

func NewBuilder(sc *scheduler.Context, a *actor.Actor) *Builder {
	return &Builder{sc: sc, I: a}
}

func (b *Builder) Suites(files []*File) []*model.Suite {
	out := make([]*model.Suite, 0, len(files))
	for _, f := range files {
		out = append(out, b.Suite(f))
	}
	return out
}

func (b *Builder) Suite(f *File) *model.Suite {
	s := model.NewSuite(f.Feature)
	s.File = f.Path
	s.Tags = append(s.Tags, f.Tags...)
	s.TotalTimeout = f.Timeout
	s.Retries = f.Retries

	hooks := []struct {
		kind  model.HookKind
		steps []Step
	}{
		{model.HookBeforeSuite, f.Hooks.BeforeSuite},
		{model.HookBefore, f.Hooks.Before},
		{model.HookAfter, f.Hooks.After},
		{model.HookAfterSuite, f.Hooks.AfterSuite},
	}
	for _, h := range hooks {
		if len(h.steps) > 0 {
			s.AddHook(h.kind, b.body(h.steps), f.Hooks.Retries)
		}
	}

	for _, sc := range f.Scenario {
		t := model.NewTest(sc.Title, b.body(sc.Steps))
		t.Tags = append(t.Tags, sc.Tags...)
		t.TotalTimeout = sc.Timeout
		t.Retries = sc.Retries
		t.Skip = sc.Skip
		t.Throws = sc.Throws
		for k, v := range sc.Meta {
			t.Meta[k] = v
		}
		s.AddTest(t)
	}
	return s
}

func (b *Builder) body(steps []Step) model.TestFunc {
	return func(ctx context.Context) error {
		return b.record(ctx, steps)
	}
}

// record queues steps in order. Nested blocks are recorded by their
// combinator when the queue reaches them.
func (b *Builder) record(ctx context.Context, steps []Step) error {
	for _, s := range steps {
		if err := b.recordOne(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) recordOne(ctx context.Context, s Step) error {
	switch {
	case s.Do != "":
		b.recordDo(s)
	case s.Say != "":
		b.I.Say(s.Say)
	case s.TryTo != nil:
		effects.TryTo(b.sc, b.block(s.TryTo))
	case s.HopeThat != nil:
		effects.HopeThat(b.sc, b.block(s.HopeThat))
	case s.RetryTo != nil:
		poll := effects.DefaultPollInterval
		if s.RetryTo.IntervalMs > 0 {
			poll = time.Duration(s.RetryTo.IntervalMs) * time.Millisecond
		}
		steps := s.RetryTo.Steps
		effects.RetryTo(b.sc, func(ctx context.Context, _ int) error {
			return b.record(ctx, steps)
		}, s.RetryTo.Tries, poll)
	case s.Within != nil:
		steps := s.Within.Steps
		meta := model.NewMetaStep("", s.Within.Name, func(ctx context.Context, _ ...any) (any, error) {
			return nil, b.record(ctx, steps)
		})
		if _, err := step.Run(ctx, b.sc, meta); err != nil {
			return err
		}
	case s.Section != "":
		step.StartSection(b.sc, s.Section)
	case s.EndSection:
		step.EndSection(b.sc)
	}
	return nil
}

func (b *Builder) recordDo(s Step) {
	if s.LimitTime > 0 {
		b.I.LimitTime(s.LimitTime)
	}
	args := Args(s.Args)
	if s.Timeout > 0 || s.Retry > 0 {
		cfg := step.NewConfig()
		if s.Timeout > 0 {
			cfg.Timeout(s.Timeout)
		}
		if s.Retry > 0 {
			cfg.Retry(s.Retry)
		}
		args = append(args, cfg)
	}
	if s.On != "" {
		b.I.Call(s.On, s.Do, args...)
		return
	}
	b.I.Do(s.Do, args...)
}

func (b *Builder) block(steps []Step) effects.Callback {
	return func(ctx context.Context) error {
		return b.record(ctx, steps)
	}
}

// Args converts decoded YAML arguments. A mapping with the single key
// `secret` becomes a masked model.Secret.
func Args(in []any) []any {
	out := make([]any, 0, len(in))
	for _, a := range in {
		if m, ok := a.(map[string]any); ok && len(m) == 1 {
			if v, ok := m["secret"].(string); ok {
				out = append(out, model.NewSecret(v))
				continue
			}
		}
		out = append(out, a)
	}
	return out
}
