package scenario

import (
	"errors"
	"fmt"
)

// ValidationError points at the offending entry of a feature file.
type ValidationError struct {
	Where string
	Msg   string
}

func (e *ValidationError) Error() string {
	return e.Where + ": " + e.Msg
}

// MethodChecker reports whether an actor can perform a method.
type MethodChecker interface {
	Has(name string) bool
}

func (f *File) Validate() error {
	var errs []error
	if f.Feature == "" {
		errs = append(errs, &ValidationError{Where: "feature", Msg: "must not be empty"})
	}
	if f.Timeout < 0 {
		errs = append(errs, &ValidationError{Where: "timeout", Msg: "must be >= 0"})
	}
	errs = append(errs, validateSteps("hooks.before", f.Hooks.Before)...)
	errs = append(errs, validateSteps("hooks.after", f.Hooks.After)...)
	errs = append(errs, validateSteps("hooks.before_suite", f.Hooks.BeforeSuite)...)
	errs = append(errs, validateSteps("hooks.after_suite", f.Hooks.AfterSuite)...)

	titles := map[string]bool{}
	for i, sc := range f.Scenario {
		where := fmt.Sprintf("scenarios[%d]", i)
		switch {
		case sc.Title == "":
			errs = append(errs, &ValidationError{Where: where, Msg: "title must not be empty"})
		case titles[sc.Title]:
			errs = append(errs, &ValidationError{Where: where, Msg: fmt.Sprintf("duplicate title %q", sc.Title)})
		}
		titles[sc.Title] = true
		if sc.Timeout < 0 || sc.Retries < 0 {
			errs = append(errs, &ValidationError{Where: where, Msg: "timeout and retries must be >= 0"})
		}
		errs = append(errs, validateSteps(where+".steps", sc.Steps)...)
	}
	return errors.Join(errs...)
}

func validateSteps(where string, steps []Step) []error {
	var errs []error
	for i, s := range steps {
		at := fmt.Sprintf("%s[%d]", where, i)
		switch k := s.kind(); k {
		case "":
			errs = append(errs, &ValidationError{Where: at, Msg: "no action"})
		case "do":
			if s.Timeout < 0 || s.Retry < 0 || s.LimitTime < 0 {
				errs = append(errs, &ValidationError{Where: at, Msg: "timeout, retry and limit_time must be >= 0"})
			}
		case "try_to":
			errs = append(errs, validateSteps(at+".try_to", s.TryTo)...)
		case "hope_that":
			errs = append(errs, validateSteps(at+".hope_that", s.HopeThat)...)
		case "retry_to":
			if s.RetryTo.Tries < 0 {
				errs = append(errs, &ValidationError{Where: at, Msg: "retry_to.tries must be >= 0"})
			}
			errs = append(errs, validateSteps(at+".retry_to", s.RetryTo.Steps)...)
		case "within":
			if s.Within.Name == "" {
				errs = append(errs, &ValidationError{Where: at, Msg: "within.name must not be empty"})
			}
			errs = append(errs, validateSteps(at+".within", s.Within.Steps)...)
		case "say", "section", "end_section":
		default:
			errs = append(errs, &ValidationError{Where: at, Msg: "more than one action: " + k})
		}
		if s.kind() != "do" && (s.On != "" || s.Args != nil) {
			errs = append(errs, &ValidationError{Where: at, Msg: "on and args only apply to do"})
		}
	}
	return errs
}

// CheckMethods reports every `do` step naming a method the actor lacks.
func (f *File) CheckMethods(a MethodChecker) error {
	var errs []error
	var walk func(where string, steps []Step)
	walk = func(where string, steps []Step) {
		for i, s := range steps {
			at := fmt.Sprintf("%s[%d]", where, i)
			switch {
			case s.Do != "" && s.On == "" && !a.Has(s.Do):
				errs = append(errs, &ValidationError{Where: at, Msg: fmt.Sprintf("unknown method %q", s.Do)})
			case s.TryTo != nil:
				walk(at+".try_to", s.TryTo)
			case s.HopeThat != nil:
				walk(at+".hope_that", s.HopeThat)
			case s.RetryTo != nil:
				walk(at+".retry_to", s.RetryTo.Steps)
			case s.Within != nil:
				walk(at+".within", s.Within.Steps)
			}
		}
	}
	walk("hooks.before", f.Hooks.Before)
	walk("hooks.after", f.Hooks.After)
	walk("hooks.before_suite", f.Hooks.BeforeSuite)
	walk("hooks.after_suite", f.Hooks.AfterSuite)
	for i, sc := range f.Scenario {
		walk(fmt.Sprintf("scenarios[%d].steps", i), sc.Steps)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", f.Path, errors.Join(errs...))
	}
	return nil
}
