// Package listener holds the built-in dispatcher subscribers that keep
// tests, the store and the run result in step with the queue.
package listener

import (
	"strings"

	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/scheduler"
)

// Defaults attaches every built-in listener and plugin enabled in the
// config. The returned func detaches them all.
func Defaults(sc *scheduler.Context, res *model.RunResult) func() {
	return detachAll([]func(){
		Store(sc),
		Steps(sc),
		GlobalTimeout(sc),
		Result(sc, res),
		RetryFailedStep(sc, sc.Config.RetryFailedStep),
		StepTimeout(sc, sc.Config.StepTimeout),
	})
}

func detachAll(offs []func()) func() {
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// matchStep matches a step name against an exact name or a `prefix*` glob.
func matchStep(name, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return name == pattern
}

func matchAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if matchStep(name, p) {
			return true
		}
	}
	return false
}
