package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

// StageFunc runs one enforcement stage against a submission.
type StageFunc func(*Context) model.StageResult

type stage struct {
	name string
	run  StageFunc
}

// Executor runs the enforcement stages in order with a per-stage timeout.
// The pipeline is fail-closed: a timeout or a panicking stage is a rejection,
// and the first non-passing stage halts execution. Later stages are skipped
// and absent from the log.
type Executor struct {
	stages  []stage
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecutor creates the standard two-stage pipeline: policy engine, then
// capability sandbox.
func NewExecutor(timeout time.Duration, logger *zap.Logger) *Executor {
	return newExecutor(timeout, logger, []stage{
		{StagePolicyEngine, EvalPolicy},
		{StageCapabilitySandbox, EvalCapability},
	})
}

func newExecutor(timeout time.Duration, logger *zap.Logger, stages []stage) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{stages: stages, timeout: timeout, logger: logger}
}

// Execute runs all stages sequentially against pctx, appending a StageResult
// per executed stage. On the first non-passing stage it sets the rejection
// fields and stops. Returns pctx for convenience.
func (e *Executor) Execute(ctx context.Context, pctx *Context) *Context {
	for _, st := range e.stages {
		start := time.Now()
		result := e.runStage(ctx, st, pctx)
		result.DurationMS = float64(time.Since(start).Microseconds()) / 1000.0
		pctx.Log = append(pctx.Log, result)

		if !result.Passed {
			pctx.Rejected = true
			pctx.RejectionStage = result.Stage
			pctx.RejectionReason = result.Reason
			e.logger.Info("pipeline rejected",
				zap.String("request_id", pctx.RequestID.String()),
				zap.String("stage", result.Stage),
				zap.String("reason", result.Reason),
			)
			break
		}
	}
	return pctx
}

// runStage executes one stage on its own goroutine so a slow or stuck stage
// cannot hold the submission past the timeout. A panic inside the stage is
// recovered and reported as a failing result.
func (e *Executor) runStage(ctx context.Context, st stage, pctx *Context) model.StageResult {
	resCh := make(chan model.StageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("pipeline stage panic",
					zap.String("stage", st.name),
					zap.Any("panic", r),
				)
				resCh <- model.StageResult{
					Stage:  st.name,
					Passed: false,
					Reason: fmt.Sprintf("Stage error: %v", r),
				}
			}
		}()
		resCh <- st.run(pctx)
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case res := <-resCh:
		return res
	case <-timer.C:
		return model.StageResult{
			Stage:  st.name,
			Passed: false,
			Reason: fmt.Sprintf("Stage timed out after %ds", int(e.timeout.Seconds())),
		}
	case <-ctx.Done():
		return model.StageResult{
			Stage:  st.name,
			Passed: false,
			Reason: fmt.Sprintf("Stage error: %v", ctx.Err()),
		}
	}
}
