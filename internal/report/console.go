// Package report prints run progress to the terminal and persists the
// run result as YAML.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/model"
)

type ConsoleOptions struct {
	// Steps prints every step as it starts.
	Steps bool
	// Worker prefixes every line, used when several runs share a terminal.
	// Worker consoles print no summary.
	Worker string
}

// Console is a reporter driven purely by dispatcher events.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	opts  ConsoleOptions
	theme Theme
}

func NewConsole(w io.Writer, opts ConsoleOptions) *Console {
	return &Console{w: w, opts: opts, theme: NewTheme(w)}
}

// Attach subscribes the reporter and returns a func removing it again.
func (c *Console) Attach(d *events.Dispatcher) func() {
	offs := []func(){
		d.On(events.SuiteBefore, func(ev events.Event) {
			c.printf("\n%s\n", c.theme.Suite.Render(ev.Suite.Title))
		}),
		d.On(events.TestPassed, func(ev events.Event) {
			c.printf("  %s %s %s\n", c.theme.Passed.Render("✔"), ev.Test.Title, c.theme.Muted.Render(ms(ev.Test.Duration)))
		}),
		d.On(events.TestFailed, func(ev events.Event) {
			title := ev.Test.Title
			if ev.Test.RetryNum > 0 {
				title += fmt.Sprintf(" (retry %d)", ev.Test.RetryNum)
			}
			c.printf("  %s %s\n", c.theme.Failed.Render("✖"), title)
			if ev.Err != nil {
				c.printf("    %s\n", c.theme.Failed.Render(ev.Err.Error()))
			}
		}),
		d.On(events.TestSkipped, func(ev events.Event) {
			c.printf("  %s %s\n", c.theme.Skipped.Render("S"), ev.Test.Title)
		}),
		d.On(events.HookFailed, func(ev events.Event) {
			c.printf("  %s %s: %v\n", c.theme.Failed.Render("✖"), ev.Hook.Title(), ev.Err)
		}),
		d.On(events.StepComment, func(ev events.Event) {
			c.printf("    %s\n", c.theme.Comment.Render(fmt.Sprint(ev.Value)))
		}),
	}
	if c.opts.Worker == "" {
		offs = append(offs, d.On(events.AllResult, func(ev events.Event) {
			c.summary(ev.Result)
		}))
	}
	if c.opts.Steps {
		offs = append(offs, d.On(events.StepStarted, func(ev events.Event) {
			if hiddenByCollapsed(ev.Step) {
				return
			}
			indent := strings.Repeat("  ", depth(ev.Step))
			c.printf("    %s%s\n", indent, c.theme.Step.Render(ev.Step.String()))
		}))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (c *Console) summary(res *model.RunResult) {
	if res == nil {
		return
	}
	st := res.Stats()
	parts := []string{fmt.Sprintf("%d passed", st.Passes)}
	if st.Failures > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", st.Failures))
	}
	if st.Pending > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", st.Pending))
	}
	if st.FailedHooks > 0 {
		parts = append(parts, fmt.Sprintf("%d failed hooks", st.FailedHooks))
	}

	banner := c.theme.Banner.Background(lipgloss.Color("#10B981")).Render("OK")
	if res.HasFailed() {
		banner = c.theme.Banner.Background(lipgloss.Color("#EF4444")).Render("FAIL")
		c.printf("\n-- FAILURES:\n")
		for i, f := range res.Failures() {
			c.printf("  %d) %s\n", i+1, f)
		}
	}
	c.printf("\n%s | %s %s\n", banner, strings.Join(parts, ", "), c.theme.Muted.Render("// "+ms(st.Duration)))
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Worker != "" {
		format = "[" + c.opts.Worker + "] " + format
	}
	fmt.Fprintf(c.w, format, args...)
}

func depth(s *model.Step) int {
	n := 0
	for p := s.MetaStep; p != nil; p = p.MetaStep {
		n++
	}
	return n
}

func hiddenByCollapsed(s *model.Step) bool {
	for p := s.MetaStep; p != nil; p = p.MetaStep {
		if p.Collapsed {
			return true
		}
	}
	return false
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
