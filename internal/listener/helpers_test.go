package listener

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/helper"
	"github.com/msageha/stepflow/internal/model"
)

type hookedHelper struct {
	name   string
	calls  *[]string
	before error
}

func (h *hookedHelper) Name() string                      { return h.name }
func (h *hookedHelper) Methods() map[string]helper.Method { return nil }

func (h *hookedHelper) BeforeTest(_ context.Context, t *model.Test) error {
	*h.calls = append(*h.calls, h.name+" before "+t.Title)
	return h.before
}

func (h *hookedHelper) AfterTest(_ context.Context, t *model.Test) error {
	*h.calls = append(*h.calls, h.name+" after "+t.Title)
	return nil
}

func (h *hookedHelper) BeforeSuite(_ context.Context, s *model.Suite) error {
	*h.calls = append(*h.calls, h.name+" beforeSuite "+s.Title)
	return nil
}

func (h *hookedHelper) AfterSuite(_ context.Context, s *model.Suite) error {
	*h.calls = append(*h.calls, h.name+" afterSuite "+s.Title)
	return nil
}

func TestHelpers_RunsHooksInOrder(t *testing.T) {
	sc := newScheduler(model.DefaultConfig())
	var calls []string
	off := Helpers(sc, []helper.Helper{
		&hookedHelper{name: "A", calls: &calls},
		helper.NewTimer(),
		&hookedHelper{name: "B", calls: &calls},
	})

	suite := model.NewSuite("Cart")
	test := model.NewTest("adds item", nil)
	suite.AddTest(test)

	sc.Events.EmitSuite(events.SuiteBefore, suite)
	sc.Events.EmitTest(events.TestBefore, test, nil)
	sc.Events.EmitTest(events.TestAfter, test, nil)
	sc.Events.EmitSuite(events.SuiteAfter, suite)
	_, err := sc.Recorder.Promise().Await()
	assert.NoError(t, err)

	assert.Equal(t, []string{
		"A beforeSuite Cart", "B beforeSuite Cart",
		"A before adds item", "B before adds item",
		"A after adds item", "B after adds item",
		"A afterSuite Cart", "B afterSuite Cart",
	}, calls)

	off()
	calls = nil
	sc.Events.EmitTest(events.TestBefore, test, nil)
	_, _ = sc.Recorder.Promise().Await()
	assert.Empty(t, calls)
}

func TestHelpers_FailingHookFailsQueue(t *testing.T) {
	sc := newScheduler(model.DefaultConfig())
	var calls []string
	Helpers(sc, []helper.Helper{
		&hookedHelper{name: "A", calls: &calls, before: errors.New("browser did not start")},
		&hookedHelper{name: "B", calls: &calls},
	})

	sc.Events.EmitTest(events.TestBefore, model.NewTest("t", nil), nil)
	_, err := sc.Recorder.Promise().Await()

	assert.ErrorContains(t, err, "A before: browser did not start")
	assert.Equal(t, []string{"A before t"}, calls)
}
