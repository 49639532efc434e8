package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qmpie/internal/chat"
	"qmpie/internal/contextmgr"
	"qmpie/internal/defaults"
	"qmpie/internal/deliverable"
	"qmpie/internal/memory"
	"qmpie/internal/observability"
	"qmpie/internal/provider"
	"qmpie/internal/session"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Orchestrator 驱动一轮对话：合并记忆、组装上下文、调用模型、推进阶段
// Orchestrator runs turns: it merges memory, assembles context, calls the
// model, updates the ledger and phase, and shapes the envelope. It is safe for
// concurrent use; turns on the same session are serialised by the registry.
type Orchestrator struct {
	provider      provider.Provider
	registry      *session.Registry
	assembler     *contextmgr.Assembler
	promptVersion string
	phaseTool     bool
	timeout       time.Duration
	disabledText  string
	logger        *zap.Logger
	metrics       *observability.Metrics
	onDelta       DeltaFunc
	now           func() time.Time
}

func New(opts Options) *Orchestrator {
	assembler := opts.Assembler
	if assembler == nil {
		prompt := opts.SystemPrompt
		if prompt == "" {
			prompt = defaults.SystemPrompt
		}
		assembler = contextmgr.New(prompt)
	}
	promptVersion := opts.PromptVersion
	if promptVersion == "" {
		promptVersion = defaults.PromptVersion
	}
	disabledText := opts.DisabledText
	if disabledText == "" {
		disabledText = defaults.DisabledReply
	}
	providerClient := opts.Provider
	if providerClient == nil {
		providerClient = provider.Disabled{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		provider:      providerClient,
		registry:      opts.Registry,
		assembler:     assembler,
		promptVersion: promptVersion,
		phaseTool:     opts.PhaseTool,
		timeout:       opts.Timeout,
		disabledText:  disabledText,
		logger:        logger.Named("orchestrator"),
		metrics:       opts.Metrics,
		onDelta:       opts.OnDelta,
		now:           now,
	}
}

// PromptVersion is the version new sessions must announce.
func (o *Orchestrator) PromptVersion() string {
	return o.promptVersion
}

// Start opens a session and runs its first turn.
func (o *Orchestrator) Start(ctx context.Context, req TurnRequest) (Envelope, error) {
	return o.turn(ctx, EndpointStart, req)
}

// Continue runs a turn on an existing session.
func (o *Orchestrator) Continue(ctx context.Context, req TurnRequest) (Envelope, error) {
	return o.turn(ctx, EndpointContinue, req)
}

// Final 强制进入 final 阶段并以 final 参数调用模型
// Final runs the assembly turn: the phase is forced to final before and after
// the call, and the model is invoked with the final override.
func (o *Orchestrator) Final(ctx context.Context, req TurnRequest) (Envelope, error) {
	return o.turn(ctx, EndpointFinal, req)
}

func (o *Orchestrator) turn(ctx context.Context, endpoint Endpoint, req TurnRequest) (env Envelope, err error) {
	started := o.now()
	ctx, span := observability.Tracer().Start(ctx, "qmpie.turn",
		trace.WithAttributes(attribute.String("qmpie.endpoint", string(endpoint))))
	outcome := observability.OutcomeOK
	defer func() {
		if err != nil {
			outcome = outcomeFor(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.String("qmpie.session_id", env.SessionID),
			attribute.String("qmpie.phase", string(env.Phase)),
			attribute.String("qmpie.outcome", outcome),
		)
		span.End()
		o.metrics.ObserveTurn(string(endpoint), outcome, o.now().Sub(started))
	}()

	lease, err := o.lease(ctx, endpoint, req)
	if err != nil {
		return Envelope{}, err
	}
	defer lease.Release()
	sess := lease.Session
	final := endpoint == EndpointFinal
	before := sess.Phase

	sess.MergeMemory(req.MemoryDelta)
	if final {
		sess.Phase = session.PhaseFinal
	} else if req.PhaseHint != "" && !sess.ApplyHint(req.PhaseHint) {
		o.logger.Debug("ignoring unknown phase hint", zap.String("session", sess.ID), zap.String("hint", req.PhaseHint))
	}

	messages := o.assembler.Build(sess.View(), req.UserMessage)
	tokens := contextmgr.TokenizerForModel(o.provider.CurrentModel()).Count(messages)
	o.metrics.ObservePromptTokens(tokens)
	span.SetAttributes(attribute.Int("qmpie.prompt_tokens", tokens))

	modelReq := provider.Request{Messages: messages, Final: final}
	if o.phaseTool {
		modelReq.Tools = []chat.ToolDef{provider.PhaseTool()}
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	stream, err := o.provider.Stream(callCtx, modelReq)
	if errors.Is(err, provider.ErrDisabled) {
		outcome = observability.OutcomeDisabled
		sess.AppendTurn(chat.RoleAssistant, o.disabledText)
		o.logger.Warn("model provider disabled, returning fixed reply", zap.String("session", sess.ID))
		o.recordPhase(sess, before)
		return o.envelope(sess, o.disabledText, false, false, final), nil
	}
	sess.AppendTurn(chat.RoleUser, req.UserMessage)
	if err != nil {
		return Envelope{}, o.upstreamErr(ctx, sess.ID, err)
	}

	res, err := provider.Aggregate(callCtx, stream, o.deltaFunc(sess.ID))
	if err == nil && res.Text == "" && len(res.ToolCalls) > 0 {
		res, err = o.answerTools(callCtx, sess.ID, modelReq, res)
	}
	if err != nil {
		return Envelope{}, o.upstreamErr(ctx, sess.ID, err)
	}
	if res.Truncated {
		outcome = observability.OutcomeTruncated
		o.logger.Warn("model stream interrupted, keeping partial reply",
			zap.String("session", sess.ID), zap.Int("chars", len(res.Text)))
	}
	if res.Text != "" {
		sess.AppendTurn(chat.RoleAssistant, res.Text)
	} else {
		o.logger.Warn("model returned no text", zap.String("session", sess.ID))
	}

	switch {
	case final:
		sess.Phase = session.PhaseFinal
	default:
		if p, ok := session.ParsePhase(res.PhaseSignal); ok {
			sess.Phase = p
		} else if p, ok := session.InferPhase(res.Text); ok {
			sess.Phase = p
		}
	}
	o.recordPhase(sess, before)

	if res.FinalMarkdownPresent {
		if doc, err := deliverable.Extract(res.Text); err == nil {
			sess.Deliverable = doc
			o.metrics.DeliverableExtracted()
		}
	}

	o.logger.Info("turn complete",
		zap.String("endpoint", string(endpoint)),
		zap.String("session", sess.ID),
		zap.String("phase", string(sess.Phase)),
		zap.Int("prompt_tokens", tokens),
		zap.Int("completion_tokens", res.Usage.CompletionTokens),
		zap.Bool("final_markdown", res.FinalMarkdownPresent),
		zap.Bool("used_final", res.UsedFinal),
	)
	env = o.envelope(sess, res.Text, res.FinalMarkdownPresent, res.Truncated, final)
	return env, nil
}

// lease validates the prompt version and returns the session exclusively.
func (o *Orchestrator) lease(ctx context.Context, endpoint Endpoint, req TurnRequest) (*session.Lease, error) {
	if endpoint == EndpointStart {
		if req.PromptVersion != o.promptVersion {
			return nil, fmt.Errorf("%w: got %q, want %q", ErrPromptVersionMismatch, req.PromptVersion, o.promptVersion)
		}
		lease, err := o.registry.Create(req.PromptVersion)
		if err != nil {
			return nil, err
		}
		o.metrics.SetSessionsActive(o.registry.Len())
		o.logger.Debug("session created", zap.String("session", lease.Session.ID))
		return lease, nil
	}

	lease, err := o.registry.Acquire(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("acquire session %s: %w", req.SessionID, err)
	}
	if lease.Session.PromptVersion != req.PromptVersion {
		pv := lease.Session.PromptVersion
		lease.Release()
		return nil, fmt.Errorf("%w: session uses %q", ErrPromptVersionStale, pv)
	}
	return lease, nil
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) deltaFunc(sessionID string) func(string) {
	if o.onDelta == nil {
		return nil
	}
	return func(fragment string) { o.onDelta(sessionID, fragment) }
}

func (o *Orchestrator) recordPhase(sess *session.Session, before session.Phase) {
	if before == sess.Phase {
		return
	}
	regression := session.IsRegression(before, sess.Phase)
	if regression {
		o.logger.Warn("phase regression",
			zap.String("session", sess.ID),
			zap.String("from", string(before)),
			zap.String("to", string(sess.Phase)))
	}
	o.metrics.PhaseChanged(string(before), string(sess.Phase), regression)
}

func (o *Orchestrator) upstreamErr(ctx context.Context, sessionID string, err error) error {
	if isContextCancellationErr(ctx, err) {
		o.logger.Warn("model call cancelled", zap.String("session", sessionID), zap.Error(err))
		return fmt.Errorf("model call: %w", contextErrOr(ctx, err))
	}
	o.logger.Error("model call failed", zap.String("session", sessionID), zap.Error(err))
	return fmt.Errorf("model call: %w", err)
}

func (o *Orchestrator) envelope(sess *session.Session, text string, finalMarkdown, truncated, final bool) Envelope {
	next := NextAskUser
	if final {
		next = NextPersistAndRender
	}
	snapshot := memory.Clone(sess.Memory)
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	return Envelope{
		SessionID:            sess.ID,
		PromptVersion:        sess.PromptVersion,
		Phase:                sess.Phase,
		AssistantMarkdown:    text,
		MemorySnapshot:       snapshot,
		FinalMarkdownPresent: finalMarkdown,
		NextAction:           next,
		Truncated:            truncated,
	}
}
