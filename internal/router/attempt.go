package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskrouter/internal/metrics"
	"taskrouter/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// attemptOutcome 单次尝试后的去向
type attemptOutcome int

const (
	outcomeRetry     attemptOutcome = iota // 同一候选继续重试
	outcomeSuccess                         // 成功，结束整个编排
	outcomeExhausted                       // 当前候选用尽，切换下一个
)

// attemptState 候选内的尝试状态，strictness 随重试递增
type attemptState struct {
	index      int
	strictness int
}

func (s attemptState) next() attemptState {
	return attemptState{index: s.index + 1, strictness: StrictnessFor(s.index + 1)}
}

// attemptResult 单次尝试结果
type attemptResult struct {
	outcome  attemptOutcome
	next     attemptState
	raw      string
	output   any
	usage    usage
	failure  *AttemptError
	canceled bool
}

// runState 单次 RunTask 的上下文
type runState struct {
	input    RunInput
	spec     *models.TaskSpec
	schema   map[string]any
	quality  models.Quality
	attempts int
	usage    usage
	trail    []AttemptError
}

func (rs *runState) fail(e AttemptError) {
	rs.trail = append(rs.trail, e)
}

// runCandidate 在单个候选上执行尝试状态机直到成功或用尽
func (r *Router) runCandidate(ctx context.Context, rs *runState, cand models.ModelOption, exec ProviderExecutor) attemptResult {
	st := attemptState{}
	for {
		res := r.attempt(ctx, rs, cand, exec, st)
		if res.failure != nil {
			rs.fail(*res.failure)
		}
		if res.outcome != outcomeRetry {
			return res
		}
		st = res.next
		if !r.sleepBackoff(ctx, st.index) {
			rs.fail(canceledError(cand, st.index, ctx.Err()))
			return attemptResult{outcome: outcomeExhausted, canceled: true}
		}
	}
}

// attempt 执行一次调用：构建 prompt → 调用执行器 → 规整输出
func (r *Router) attempt(ctx context.Context, rs *runState, cand models.ModelOption, exec ProviderExecutor, st attemptState) attemptResult {
	if err := ctx.Err(); err != nil {
		e := canceledError(cand, st.index, err)
		return attemptResult{outcome: outcomeExhausted, failure: &e, canceled: true}
	}

	ctx, span := r.tracer.Start(ctx, "router.attempt", trace.WithAttributes(
		attribute.String("provider", string(cand.Provider)),
		attribute.String("model", cand.ModelID),
		attribute.Int("attempt", st.index),
		attribute.Int("strictness", st.strictness),
	))
	defer span.End()

	system, user, err := r.prompts.Build(rs.spec, rs.input.Input, rs.schema, st.strictness)
	if err != nil {
		// prompt 构建失败与提供商无关，重试无意义
		span.SetStatus(codes.Error, err.Error())
		e := AttemptError{Provider: cand.Provider, Model: cand.ModelID, Phase: PhaseDispatch, Code: CodePromptBuild, Message: err.Error(), Attempt: st.index}
		return attemptResult{outcome: outcomeExhausted, failure: &e}
	}

	rs.attempts++
	req := &InvokeRequest{
		Model:        cand.ModelID,
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    maxTokensFor(rs.spec, cand),
		JSONMode:     rs.spec.RequiresJSON && cand.SupportsJSON,
		Strictness:   st.strictness,
	}

	res, err := safeInvoke(ctx, exec, req)
	if err == nil && (res == nil || !res.Success) {
		err = errors.New(failureMessage(res))
	}
	if err != nil && ctx.Err() != nil {
		// 调用方取消不计入提供商健康度
		span.SetStatus(codes.Error, ctx.Err().Error())
		e := canceledError(cand, st.index, ctx.Err())
		return attemptResult{outcome: outcomeExhausted, failure: &e, canceled: true}
	}
	if err != nil {
		r.health.RecordResult(cand.Provider, false)
		metrics.ProviderAttemptsTotal.WithLabelValues(string(cand.Provider), cand.ModelID, ReasonProviderError).Inc()
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("提供商调用失败",
			zap.String("trace_id", rs.input.TraceID),
			zap.String("provider", string(cand.Provider)),
			zap.String("model", cand.ModelID),
			zap.Int("attempt", st.index),
			zap.Error(err),
		)
		e := AttemptError{Provider: cand.Provider, Model: cand.ModelID, Phase: PhaseInvoke, Code: ReasonProviderError, Message: err.Error(), Attempt: st.index}
		return r.afterFailure(st, e)
	}

	norm := Normalize(res.Content, rs.schema, rs.spec.RequiresJSON)
	if !norm.OK {
		r.health.RecordResult(cand.Provider, false)
		metrics.ProviderAttemptsTotal.WithLabelValues(string(cand.Provider), cand.ModelID, ReasonJSONParseFailure).Inc()
		span.SetStatus(codes.Error, norm.Message)
		r.logger.Warn("模型输出规整失败",
			zap.String("trace_id", rs.input.TraceID),
			zap.String("provider", string(cand.Provider)),
			zap.String("model", cand.ModelID),
			zap.Int("attempt", st.index),
			zap.String("detail", norm.Message),
		)
		e := AttemptError{Provider: cand.Provider, Model: cand.ModelID, Phase: PhaseNormalize, Code: norm.Code, Message: norm.Message, Attempt: st.index}
		return r.afterFailure(st, e)
	}

	r.health.RecordResult(cand.Provider, true)
	metrics.ProviderAttemptsTotal.WithLabelValues(string(cand.Provider), cand.ModelID, "success").Inc()
	return attemptResult{
		outcome: outcomeSuccess,
		raw:     res.Content,
		output:  norm.Output,
		usage:   estimateCost(r.estimator, cand, system+"\n"+user, res.Content, res),
	}
}

// afterFailure 根据剩余次数决定重试或用尽
func (r *Router) afterFailure(st attemptState, e AttemptError) attemptResult {
	if st.index+1 < r.maxAttempts {
		return attemptResult{outcome: outcomeRetry, next: st.next(), failure: &e}
	}
	return attemptResult{outcome: outcomeExhausted, failure: &e}
}

// sleepBackoff 重试前等待，上下文取消时返回 false
func (r *Router) sleepBackoff(ctx context.Context, attempt int) bool {
	if r.retryBackoff <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(r.retryBackoff * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// safeInvoke 调用执行器，panic 转为错误
func safeInvoke(ctx context.Context, exec ProviderExecutor, req *InvokeRequest) (res *InvokeResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("执行器异常: %v", p)
		}
	}()
	return exec.Invoke(ctx, req)
}

func failureMessage(res *InvokeResult) string {
	if res == nil {
		return "执行器未返回结果"
	}
	if res.ErrorMessage != "" {
		return res.ErrorMessage
	}
	return "提供商返回失败"
}

func canceledError(cand models.ModelOption, attempt int, err error) AttemptError {
	msg := "请求已取消"
	if err != nil {
		msg = err.Error()
	}
	return AttemptError{Provider: cand.Provider, Model: cand.ModelID, Phase: PhaseInvoke, Code: CodeCanceled, Message: msg, Attempt: attempt}
}

// maxTokensFor 任务提示优先于候选默认值
func maxTokensFor(spec *models.TaskSpec, cand models.ModelOption) int {
	if spec.MaxTokensHint != nil && *spec.MaxTokensHint > 0 {
		return *spec.MaxTokensHint
	}
	return cand.MaxTokens
}
