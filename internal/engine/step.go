package engine

import (
	"context"
	"fmt"

	"github.com/soochol/ingest/internal/ingest"
)

// Step is one stage of record-level processing. Execute receives the
// record's current payload and returns the payload for the next step.
type Step interface {
	Name() string
	Execute(ctx context.Context, data ingest.Record) (ingest.Record, error)
}

// Rollbacker is implemented by steps that have a compensating action.
type Rollbacker interface {
	Rollback(ctx context.Context, data ingest.Record) error
}

type StepFunc func(ctx context.Context, data ingest.Record) (ingest.Record, error)

type RollbackFunc func(ctx context.Context, data ingest.Record) error

type funcStep struct {
	name string
	run  StepFunc
}

func (s *funcStep) Name() string { return s.name }

func (s *funcStep) Execute(ctx context.Context, data ingest.Record) (ingest.Record, error) {
	return s.run(ctx, data)
}

type funcStepWithRollback struct {
	funcStep
	undo RollbackFunc
}

func (s *funcStepWithRollback) Rollback(ctx context.Context, data ingest.Record) error {
	return s.undo(ctx, data)
}

// NewStep wraps fn as a Step without a rollback action.
func NewStep(name string, fn StepFunc) Step {
	return &funcStep{name: name, run: fn}
}

// NewStepWithRollback wraps fn and undo as a Step that also implements Rollbacker.
func NewStepWithRollback(name string, fn StepFunc, undo RollbackFunc) Step {
	return &funcStepWithRollback{funcStep: funcStep{name: name, run: fn}, undo: undo}
}

// runStep executes s, converting a panic into an error so one misbehaving
// step cannot take down the job goroutine.
func runStep(ctx context.Context, s Step, data ingest.Record) (out ingest.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Execute(ctx, data)
}

func runRollback(ctx context.Context, rb Rollbacker, data ingest.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rollback panicked: %v", r)
		}
	}()
	return rb.Rollback(ctx, data)
}
