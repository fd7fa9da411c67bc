package model

import "time"

// Stats are the counters of one run.
type Stats struct {
	Passes      int           `yaml:"passes" json:"passes"`
	Failures    int           `yaml:"failures" json:"failures"`
	Tests       int           `yaml:"tests" json:"tests"`
	Pending     int           `yaml:"pending" json:"pending"`
	FailedHooks int           `yaml:"failed_hooks" json:"failed_hooks"`
	Start       time.Time     `yaml:"start" json:"start"`
	End         time.Time     `yaml:"end" json:"end"`
	Duration    time.Duration `yaml:"duration" json:"duration"`
}

// RunResult collects tests and stats for a run.
type RunResult struct {
	startTime time.Time
	endTime   time.Time
	stats     Stats
	tests     []*Test
	failures  []string
}

func NewRunResult() *RunResult {
	r := &RunResult{}
	r.Reset()
	r.Start()
	return r
}

func (r *RunResult) Reset() {
	r.stats = Stats{}
	r.tests = nil
	r.failures = nil
}

func (r *RunResult) Start()  { r.startTime = time.Now() }
func (r *RunResult) Finish() { r.endTime = time.Now() }

func (r *RunResult) StartTime() time.Time { return r.startTime }
func (r *RunResult) Stats() Stats         { return r.stats }
func (r *RunResult) Tests() []*Test       { return r.tests }
func (r *RunResult) HasFailed() bool      { return r.stats.Failures > 0 }

func (r *RunResult) Failures() []string {
	out := make([]string, 0, len(r.failures))
	for _, f := range r.failures {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (r *RunResult) Duration() time.Duration {
	if r.endTime.IsZero() {
		return 0
	}
	return r.endTime.Sub(r.startTime)
}

// AddTest records a test; a retried test with the same uid replaces the
// earlier attempt.
func (r *RunResult) AddTest(t *Test) {
	if t.UID != "" {
		for i, existing := range r.tests {
			if existing.UID == t.UID {
				r.tests[i] = t
				return
			}
		}
	}
	r.tests = append(r.tests, t)
}

func (r *RunResult) AddFailures(failures ...string) {
	r.failures = append(r.failures, failures...)
}

// AddStats accumulates counters; start keeps the earliest value.
func (r *RunResult) AddStats(s Stats) {
	r.stats.Passes += s.Passes
	r.stats.Failures += s.Failures
	r.stats.Tests += s.Tests
	r.stats.Pending += s.Pending
	r.stats.FailedHooks += s.FailedHooks
	if r.stats.Start.IsZero() {
		r.stats.Start = s.Start
	}
	if !s.End.IsZero() {
		r.stats.End = s.End
	}
	if s.Duration != 0 {
		r.stats.Duration = s.Duration
	}
}

// Tally recomputes the test counters from the final state of every
// collected test. Failed hooks are kept.
func (r *RunResult) Tally() {
	r.Finish()
	r.stats.Passes, r.stats.Failures, r.stats.Pending = 0, 0, 0
	r.stats.Tests = len(r.tests)
	r.failures = nil
	for _, t := range r.tests {
		switch {
		case t.State == TestStateSkipped:
			r.stats.Pending++
		case t.State == TestStateFailed || t.Err != nil:
			r.stats.Failures++
			msg := t.FullTitle()
			if t.Err != nil {
				msg += ": " + t.Err.Error()
			}
			r.failures = append(r.failures, msg)
		default:
			r.stats.Passes++
		}
	}
	r.stats.Failures += r.stats.FailedHooks
	r.stats.Start = r.startTime
	r.stats.End = r.endTime
	r.stats.Duration = r.Duration()
}

// Merge folds another run (e.g. a worker's) into r.
func (r *RunResult) Merge(other *RunResult) {
	for _, t := range other.tests {
		r.AddTest(t)
	}
	r.AddFailures(other.failures...)
	r.AddStats(other.stats)
}

func (r *RunResult) filter(state TestState) []*Test {
	var out []*Test
	for _, t := range r.tests {
		if t.State == state {
			out = append(out, t)
		}
	}
	return out
}

func (r *RunResult) FailedTests() []*Test  { return r.filter(TestStateFailed) }
func (r *RunResult) PassedTests() []*Test  { return r.filter(TestStatePassed) }
func (r *RunResult) SkippedTests() []*Test { return r.filter(TestStateSkipped) }

// ResultFile is the on-disk shape of a run result.
type ResultFile struct {
	SchemaVersion int          `yaml:"schema_version" json:"schema_version"`
	FileType      string       `yaml:"file_type" json:"file_type"`
	HasFailed     bool         `yaml:"has_failed" json:"has_failed"`
	Stats         Stats        `yaml:"stats" json:"stats"`
	Duration      string       `yaml:"duration" json:"duration"`
	Tests         []SimpleTest `yaml:"tests" json:"tests"`
	Failures      []string     `yaml:"failures,omitempty" json:"failures,omitempty"`
}

type SimpleTest struct {
	UID       string            `yaml:"uid" json:"uid"`
	Title     string            `yaml:"title" json:"title"`
	Suite     string            `yaml:"suite,omitempty" json:"suite,omitempty"`
	Tags      []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	State     TestState         `yaml:"state" json:"state"`
	Retries   int               `yaml:"retries" json:"retries"`
	Notes     []Note            `yaml:"notes,omitempty" json:"notes,omitempty"`
	Meta      map[string]string `yaml:"meta,omitempty" json:"meta,omitempty"`
	Artifacts map[string]string `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	Duration  string            `yaml:"duration" json:"duration"`
	Err       string            `yaml:"err,omitempty" json:"err,omitempty"`
	Steps     []SimpleStep      `yaml:"steps,omitempty" json:"steps,omitempty"`
}

func SimplifyTest(t *Test) SimpleTest {
	st := SimpleTest{
		UID:       t.UID,
		Title:     t.Title,
		Tags:      t.Tags,
		State:     t.State,
		Retries:   t.Retries,
		Notes:     t.Notes,
		Meta:      t.Meta,
		Artifacts: t.Artifacts,
		Duration:  t.Duration.String(),
	}
	if t.Suite != nil {
		st.Suite = t.Suite.Title
	}
	if t.Err != nil {
		st.Err = t.Err.Error()
		st.State = TestStateFailed
	}
	for _, s := range t.Steps {
		st.Steps = append(st.Steps, s.Simplify())
	}
	return st
}

func (r *RunResult) Simplify() ResultFile {
	out := ResultFile{
		SchemaVersion: 1,
		FileType:      "run_result",
		HasFailed:     r.HasFailed(),
		Stats:         r.stats,
		Duration:      r.Duration().String(),
		Failures:      r.Failures(),
	}
	for _, t := range r.tests {
		out.Tests = append(out.Tests, SimplifyTest(t))
	}
	return out
}
