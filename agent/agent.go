// Specialist loop implementation.
//
// This is THE canonical implementation of the observe-act loop.
// All specialist execution goes through this module.
//
// Information Hiding:
// - Loop state (counters, breaker, critical trail) hidden
// - Model communication and cost accounting hidden
// - Ledger writes paired with emitted events

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/vdirector/ledger"
	"github.com/richinex/vdirector/llm"
	"github.com/richinex/vdirector/model"
	"github.com/richinex/vdirector/tools"
)

// User-facing failure summaries. Raw provider errors are only logged.
const (
	msgModelTimeout   = "model call timed out"
	msgModelCancelled = "model call cancelled"
	msgModelError     = "model provider error"
	msgCancelled      = "session cancelled"
	msgLedgerFailure  = "audit ledger unavailable"
	msgNoAnswer       = "Completed without a message."
)

// Specialist runs the tool-calling loop for one capability group. A
// Specialist holds no per-session state and is safe for concurrent use.
type Specialist struct {
	config   Config
	provider llm.Provider
	registry *tools.Registry
	ledger   ledger.Ledger
	pricing  *llm.PriceTable
	logger   *zap.Logger
	observer Observer
}

// Name returns the specialist's name.
func (s *Specialist) Name() string {
	return s.config.Name
}

// Config returns a copy of the specialist configuration.
func (s *Specialist) Config() Config {
	return s.config
}

// Model returns the model id the specialist bills against.
func (s *Specialist) Model() string {
	return s.provider.Model()
}

// session is the mutable state of one Run.
type session struct {
	*Specialist
	record   model.Session
	sink     Sink
	log      *zap.Logger
	failures int
	trail    []CriticalCall
	// turn usage not yet attributed to an action
	turnUsage llm.TokenUsage
	turnCost  float64
}

// Run executes one session and returns its terminal outcome. Events are
// delivered to sink in order; every tool_call, complete and error event is
// preceded by its ledger write.
func (s *Specialist) Run(ctx context.Context, req Request, sink Sink) Result {
	if sink == nil {
		sink = Discard
	}
	// Ledger writes must survive client cancellation.
	ledgerCtx := context.WithoutCancel(ctx)

	st := &session{
		Specialist: s,
		sink:       sink,
		record: model.Session{
			JobID:           req.JobID,
			UserID:          req.UserID,
			Instruction:     req.Instruction,
			Route:           req.Route,
			Model:           s.provider.Model(),
			MaxIterations:   s.config.MaxIterations,
			MaxSandboxCalls: s.config.MaxSandboxCalls,
			BudgetLimitUSD:  s.config.BudgetUSD,
		},
	}
	if err := s.ledger.CreateSession(ledgerCtx, &st.record); err != nil {
		s.logger.Error("failed to create session",
			zap.String("job_id", req.JobID),
			zap.String("specialist", s.config.Name),
			zap.Error(err))
		result := Result{Status: model.StatusError, Text: msgLedgerFailure, Route: req.Route}
		sink(ErrorEvent{Status: result.Status, Result: result.Text})
		s.observer.SessionDone(result.Status, 0)
		return result
	}
	st.log = s.logger.With(
		zap.String("session_id", st.record.ID),
		zap.String("job_id", req.JobID),
		zap.String("specialist", s.config.Name))
	st.log.Info("session started", zap.String("model", st.record.Model))
	sink(SessionCreatedEvent{SessionID: st.record.ID, Specialist: s.config.Name})

	return st.loop(tools.WithSession(ctx, st.record.ID), ledgerCtx, req)
}

func (st *session) loop(ctx, ledgerCtx context.Context, req Request) Result {
	transcript := []llm.ChatMessage{
		llm.SystemMessage(st.config.SystemPrompt),
		llm.UserMessage(UserTurn(req.JobID, req.Instruction, req.Context)),
	}
	schemas := st.registry.Schemas(st.config.Group.Tools)

	for iteration := 1; iteration <= st.config.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return st.finish(ledgerCtx, model.StatusError, msgCancelled)
		}
		if st.record.CostUSD > st.config.BudgetUSD {
			st.log.Warn("budget exceeded",
				zap.Float64("cost_usd", st.record.CostUSD),
				zap.Float64("budget_usd", st.config.BudgetUSD))
			return st.finish(ledgerCtx, model.StatusBudgetExceeded,
				fmt.Sprintf("Budget limit reached ($%.4f of $%.2f). Session stopped.",
					st.record.CostUSD, st.config.BudgetUSD))
		}

		st.record.Iterations = iteration
		completion, err := st.complete(ctx, llm.Request{
			Messages:    transcript,
			Tools:       schemas,
			Temperature: llm.Float32(st.config.Temperature),
			MaxTokens:   st.config.MaxTokens,
		})
		if err != nil {
			return st.finish(ledgerCtx, model.StatusError, st.modelFailure(ctx, err))
		}

		if !completion.HasToolCalls() {
			return st.answer(ledgerCtx, iteration, completion.Content)
		}

		transcript = append(transcript, llm.AssistantMessage(completion.Content, completion.ToolCalls...))
		for _, call := range completion.ToolCalls {
			if ctx.Err() != nil {
				return st.finish(ledgerCtx, model.StatusError, msgCancelled)
			}
			msg, err := st.invoke(ctx, ledgerCtx, iteration, call)
			if err != nil {
				return st.finish(ledgerCtx, model.StatusError, msgLedgerFailure)
			}
			transcript = append(transcript, msg)

			if st.failures >= st.config.BreakerThreshold {
				st.log.Warn("circuit breaker tripped", zap.Int("consecutive_failures", st.failures))
				return st.finish(ledgerCtx, model.StatusCircuitBreaker,
					fmt.Sprintf("Stopped after %d consecutive tool failures.", st.failures))
			}
		}
		st.saveCounters(ledgerCtx)
	}

	st.log.Warn("max iterations reached", zap.Int("max_iterations", st.config.MaxIterations))
	return st.finish(ledgerCtx, model.StatusMaxIterations,
		fmt.Sprintf("Iteration limit reached (%d).", st.config.MaxIterations))
}

// complete issues one model call under the model timeout and accounts for
// its usage.
func (st *session) complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, st.config.ModelTimeout)
	defer cancel()

	start := time.Now()
	completion, err := st.provider.Complete(callCtx, req)
	st.observer.ModelCall(st.provider.Model(), err)
	if err != nil {
		st.log.Error("model call failed",
			zap.Int("iteration", st.record.Iterations),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return llm.Completion{}, err
	}

	cost := st.pricing.Cost(st.provider.Model(), completion.Usage)
	st.record.TokensInput += completion.Usage.InputTokens
	st.record.TokensOutput += completion.Usage.OutputTokens
	st.record.CostUSD += cost
	st.turnUsage = completion.Usage
	st.turnCost = cost

	st.log.Debug("model call",
		zap.Int("iteration", st.record.Iterations),
		zap.Int("tool_calls", len(completion.ToolCalls)),
		zap.Int64("tokens_input", completion.Usage.InputTokens),
		zap.Int64("tokens_output", completion.Usage.OutputTokens),
		zap.Float64("cost_usd", cost))
	return completion, nil
}

// invoke runs one tool call, records it and returns the tool turn for the
// transcript. The returned error is a ledger failure.
func (st *session) invoke(ctx, ledgerCtx context.Context, iteration int, call llm.ToolCall) (llm.ChatMessage, error) {
	start := time.Now()
	var result tools.Result
	if st.config.Group.Contains(call.Name) {
		result = st.registry.Invoke(ctx, call.Name, call.Arguments)
	} else {
		result = tools.NotFound(call.Name)
	}
	elapsed := time.Since(start)
	success := !result.Failed()

	st.record.ToolCalls++
	if call.Name == tools.ReRender && success {
		st.record.Renders++
	}
	if success {
		st.failures = 0
	} else {
		st.failures++
	}
	if st.registry.IsCritical(call.Name) && st.config.Group.Contains(call.Name) {
		st.trail = append(st.trail, CriticalCall{Tool: call.Name, Success: success, Error: result.PublicError()})
	}

	payload := result.JSON()
	args := recordedArgs(call.Arguments)
	action := st.action(iteration, model.ActionToolCall)
	action.ToolName = call.Name
	action.ToolArgs = args
	action.ToolResult = payload
	action.ToolDurationMs = elapsed.Milliseconds()
	action.ToolSuccess = success
	if err := st.ledger.AppendAction(ledgerCtx, &action); err != nil {
		st.log.Error("failed to record tool call", zap.String("tool", call.Name), zap.Error(err))
		return llm.ChatMessage{}, err
	}

	st.observer.ToolCall(call.Name, success, elapsed)
	fields := []zap.Field{
		zap.Int("iteration", iteration),
		zap.String("tool", call.Name),
		zap.Bool("success", success),
		zap.Duration("duration", elapsed),
	}
	if !success {
		fields = append(fields, zap.String("error", result.ErrorMessage()))
	}
	st.log.Info("tool call", fields...)

	st.sink(ToolCallEvent{
		Iteration:  iteration,
		Tool:       call.Name,
		Args:       args,
		Success:    success,
		Error:      result.PublicError(),
		DurationMs: elapsed.Milliseconds(),
		CostSoFar:  RoundCost(st.record.CostUSD),
	})
	return llm.ToolMessage(call.ID, call.Name, string(payload)), nil
}

// recordedArgs returns the arguments as they are stored and streamed.
// Arguments that are not valid JSON, such as a call cut off by the token
// limit, are kept as a JSON string.
func recordedArgs(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

// answer handles a final text response.
func (st *session) answer(ledgerCtx context.Context, iteration int, text string) Result {
	if text == "" {
		text = msgNoAnswer
	}
	final, reconciled := Reconcile(text, st.trail)
	status := model.StatusCompleted
	if reconciled {
		status = model.StatusCompletedWithErrors
		st.log.Warn("final answer replaced: every critical tool call failed",
			zap.Int("critical_calls", len(st.trail)))
	}

	action := st.action(iteration, model.ActionLLMResponse)
	action.ResponseText = final
	if err := st.ledger.AppendAction(ledgerCtx, &action); err != nil {
		st.log.Error("failed to record final answer", zap.Error(err))
		return st.finish(ledgerCtx, model.StatusError, msgLedgerFailure)
	}
	return st.finish(ledgerCtx, status, final)
}

// action builds an action for iteration. The turn's tokens and cost go on
// the first action of the turn only.
func (st *session) action(iteration int, kind model.ActionKind) model.Action {
	a := model.Action{
		SessionID:    st.record.ID,
		Iteration:    iteration,
		Kind:         kind,
		TokensInput:  st.turnUsage.InputTokens,
		TokensOutput: st.turnUsage.OutputTokens,
		CostUSD:      st.turnCost,
	}
	st.turnUsage = llm.TokenUsage{}
	st.turnCost = 0
	return a
}

func (st *session) saveCounters(ledgerCtx context.Context) {
	if err := st.ledger.UpdateCounters(ledgerCtx, st.record.ID, st.record.Counters); err != nil {
		st.log.Error("failed to update counters", zap.Error(err))
	}
}

// finish writes the terminal state once and emits the terminal event.
func (st *session) finish(ledgerCtx context.Context, status model.Status, text string) Result {
	st.saveCounters(ledgerCtx)

	completion := ledger.Completion{Status: status}
	if status == model.StatusCompleted || status == model.StatusCompletedWithErrors {
		completion.Summary = text
	} else {
		completion.Error = text
	}
	if err := st.ledger.CompleteSession(ledgerCtx, st.record.ID, completion); err != nil {
		st.log.Error("failed to complete session", zap.String("status", string(status)), zap.Error(err))
	}

	result := Result{
		SessionID:     st.record.ID,
		Status:        status,
		Text:          text,
		Route:         st.record.Route,
		Counters:      st.record.Counters,
		CriticalCalls: st.trail,
	}
	st.observer.SessionDone(status, st.record.CostUSD)
	st.log.Info("session finished",
		zap.String("status", string(status)),
		zap.Int("iterations", st.record.Iterations),
		zap.Int("tool_calls", st.record.ToolCalls),
		zap.Float64("cost_usd", st.record.CostUSD))

	if result.Completed() {
		event := CompleteEvent{
			SessionID:  result.SessionID,
			Status:     status,
			Result:     text,
			Route:      result.Route,
			Iterations: result.Iterations,
			ToolCalls:  result.ToolCalls,
			TotalCost:  RoundCost(result.CostUSD),
		}
		if status == model.StatusCompletedWithErrors {
			event.CriticalCalls = Failures(st.trail)
		}
		st.sink(event)
	} else {
		st.sink(ErrorEvent{
			SessionID:  result.SessionID,
			Status:     status,
			Result:     text,
			Iterations: result.Iterations,
			ToolCalls:  result.ToolCalls,
			TotalCost:  RoundCost(result.CostUSD),
		})
	}
	return result
}

// modelFailure maps a model error to a user-facing summary.
func (st *session) modelFailure(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgModelTimeout
	case errors.Is(err, context.Canceled):
		return msgModelCancelled
	default:
		return msgModelError
	}
}
