package scenario

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/msageha/stepflow/internal/model"
)

// Grep keeps the tests whose full title, tags included, matches pattern,
// or does not match it when invert is set. Suites left empty are dropped.
func Grep(suites []*model.Suite, pattern string, invert bool) ([]*model.Suite, error) {
	if pattern == "" {
		return suites, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("grep: %w", err)
	}
	return keep(suites, func(t *model.Test) bool {
		return re.MatchString(t.FullTitle()+" "+strings.Join(t.Tags, " ")) != invert
	}), nil
}

// OnlyUIDs keeps the tests with the given uids.
func OnlyUIDs(suites []*model.Suite, uids []string) []*model.Suite {
	set := make(map[string]bool, len(uids))
	for _, u := range uids {
		set[u] = true
	}
	return keep(suites, func(t *model.Test) bool { return set[t.UID] })
}

func keep(suites []*model.Suite, pred func(*model.Test) bool) []*model.Suite {
	var out []*model.Suite
	for _, s := range suites {
		var tests []*model.Test
		for _, t := range s.Tests {
			if pred(t) {
				tests = append(tests, t)
			}
		}
		if len(tests) == 0 {
			continue
		}
		cp := *s
		cp.Tests = tests
		out = append(out, &cp)
	}
	return out
}
