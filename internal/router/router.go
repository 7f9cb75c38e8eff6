package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"taskrouter/internal/cache"
	"taskrouter/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxAttempts 单个候选的默认最大尝试次数
const DefaultMaxAttempts = 3

// Options 路由器选项
type Options struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	Coalesce     bool // 合并相同的可缓存请求
	TierLimits   map[models.UserTier]models.TierLimits
	Estimator    TokenEstimator
	Logger       *zap.Logger
}

// Router 任务路由与降级编排器
type Router struct {
	registry  *models.Registry
	catalog   TaskCatalog
	executors ExecutorRegistry
	health    HealthTracker
	cache     CacheStore
	telemetry TelemetrySink
	prompts   *PromptBuilder
	estimator TokenEstimator

	tierLimits   map[models.UserTier]models.TierLimits
	maxAttempts  int
	retryBackoff time.Duration
	coalesce     bool
	group        singleflight.Group

	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// cachedResult 缓存中保存的成功结果
type cachedResult struct {
	Output   any             `json:"output"`
	Raw      string          `json:"raw"`
	Provider models.Provider `json:"provider"`
	Model    string          `json:"model"`
}

// New 创建路由器，health / cacheStore / telemetry 可为 nil
func New(registry *models.Registry, catalog TaskCatalog, executors ExecutorRegistry, health HealthTracker, cacheStore CacheStore, telemetry TelemetrySink, opts Options) *Router {
	if registry == nil {
		registry = models.NewRegistry(nil)
	}
	if health == nil {
		health = allowAll{}
	}
	if telemetry == nil {
		telemetry = NopSink{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if len(opts.TierLimits) == 0 {
		opts.TierLimits = models.DefaultTierLimits()
	}
	if opts.Estimator == nil {
		opts.Estimator = CharEstimator{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if executors == nil {
		executors = ExecutorRegistry{}
	}

	return &Router{
		registry:     registry,
		catalog:      catalog,
		executors:    executors,
		health:       health,
		cache:        cacheStore,
		telemetry:    telemetry,
		prompts:      NewPromptBuilder(),
		estimator:    opts.Estimator,
		tierLimits:   opts.TierLimits,
		maxAttempts:  opts.MaxAttempts,
		retryBackoff: opts.RetryBackoff,
		coalesce:     opts.Coalesce,
		logger:       opts.Logger,
		tracer:       otel.Tracer("taskrouter/router"),
		now:          time.Now,
	}
}

// TierMaxQuality 层级允许的最高质量，未知层级按 free 处理
func (r *Router) TierMaxQuality(tier models.UserTier) models.Quality {
	if l, ok := r.tierLimits[tier]; ok && l.MaxQuality.Valid() {
		return l.MaxQuality
	}
	if l, ok := r.tierLimits[models.TierFree]; ok && l.MaxQuality.Valid() {
		return l.MaxQuality
	}
	return models.QualityLow
}

// RunTask 执行一次任务：解析规格 → 质量钳制 → 缓存 → 限额 → 候选 → 逐个尝试
// 所有失败都以 RunResult 返回。
func (r *Router) RunTask(ctx context.Context, in RunInput) RunResult {
	start := r.now()
	if in.TraceID == "" {
		in.TraceID = uuid.NewString()
	}

	ctx, span := r.tracer.Start(ctx, "router.RunTask", trace.WithAttributes(
		attribute.String("task", in.Task),
		attribute.String("tier", string(in.Tier)),
		attribute.String("trace_id", in.TraceID),
	))
	defer span.End()

	res, rec := r.run(ctx, in)
	res.TraceID = in.TraceID
	res.LatencyMs = r.now().Sub(start).Milliseconds()

	rec.TraceID = in.TraceID
	rec.LatencyMs = res.LatencyMs
	rec.CreatedAt = start
	r.emit(ctx, rec)

	span.SetAttributes(
		attribute.String("reason", res.Reason),
		attribute.Bool("cache_hit", res.CacheHit),
		attribute.String("provider", string(res.Provider)),
	)
	if !res.OK {
		span.SetStatus(codes.Error, res.Reason)
	}
	return res
}

// run 编排主流程，返回结果与遥测记录
func (r *Router) run(ctx context.Context, in RunInput) (RunResult, *InvocationRecord) {
	rec := &InvocationRecord{
		UserID:     in.UserID,
		Task:       in.Task,
		Tier:       in.Tier,
		InputChars: inputChars(in.Input),
	}

	// 1. 解析任务规格
	var spec *models.TaskSpec
	if r.catalog != nil {
		spec, _ = r.catalog.GetSpec(in.Task)
	}
	if spec == nil {
		res := failed(ReasonUnknownTask, fmt.Sprintf("unknown task: %s", in.Task), nil)
		return res, fillRecord(rec, res)
	}

	// 2. 质量钳制
	requested := spec.PreferredQualityDefault
	if in.Quality != nil && in.Quality.Valid() {
		requested = *in.Quality
	}
	if !requested.Valid() {
		requested = models.QualityStandard
	}
	tierMax := r.TierMaxQuality(in.Tier)
	effective := models.MinQuality(requested, tierMax)
	clamped := effective != requested
	rec.Quality = effective

	schema := in.JSONSchema
	if len(schema) == 0 {
		schema = spec.JSONSchema
	}

	// 3. 缓存查询
	ttl := time.Duration(spec.CacheTTL()) * time.Second
	cacheKey := ""
	if ttl > 0 && r.cache != nil {
		key, err := r.cacheKey(spec.TaskID, in, effective)
		if err != nil {
			r.logger.Debug("输入无法序列化，跳过缓存", zap.String("task", spec.TaskID), zap.Error(err))
		} else {
			cacheKey = key
			if res, ok := r.lookup(ctx, key, effective, clamped, requested, tierMax); ok {
				return res, fillRecord(rec, res)
			}
		}
	}

	// 4. 层级限额
	decision := r.health.CheckTierCap(ctx, in.UserID, in.Tier, effective)
	if !decision.Allowed {
		code := decision.Code
		if code == "" {
			code = ReasonTierCap
		}
		msg := decision.Message
		if msg == "" {
			msg = "usage limit reached"
		}
		res := failed(code, msg, nil)
		res.Quality = effective
		return res, fillRecord(rec, res)
	}

	work := func(ctx context.Context) *flight {
		rs := &runState{input: in, spec: spec, schema: schema, quality: effective}
		res := r.execute(ctx, rs, tierMax)
		if res.OK && cacheKey != "" {
			r.store(ctx, cacheKey, res, spec, in.Tier, effective, ttl)
		}
		return &flight{res: res, attempts: rs.attempts, usage: rs.usage}
	}

	var fl *flight
	owner := true
	if r.coalesce && cacheKey != "" {
		fl, owner = r.coalesced(ctx, cacheKey, effective, work)
	} else {
		fl = work(ctx)
	}

	res := fl.res
	if owner {
		rec.Attempts = fl.attempts
		rec.InputTokens = fl.usage.InputTokens
		rec.OutputTokens = fl.usage.OutputTokens
	} else if res.OK {
		// 非归属方未调用任何提供商，按缓存命中计
		res.CacheHit = true
		res.CostEstimate = 0
		res.Errors = nil
	}

	if res.OK && clamped {
		res.Reason = ReasonQualityClamped
		res.Message = clampMessage(requested, tierMax)
	}
	return res, fillRecord(rec, res)
}

// cacheKey 请求自带 schema 且未声明版本时，以 schema 指纹作为版本
func (r *Router) cacheKey(task string, in RunInput, quality models.Quality) (string, error) {
	version := in.SchemaVersion
	if version == "" {
		fp, err := cache.SchemaFingerprint(in.JSONSchema)
		if err != nil {
			return "", err
		}
		version = fp
	}
	return cache.BuildKey(task, in.Input, string(in.Tier), string(quality), version)
}

// flight 一次实际执行的结果，合并时由多个调用方共享
type flight struct {
	res      RunResult
	attempts int
	usage    usage
	claimed  atomic.Bool
}

// claim 第一个领取者承担本次执行的尝试次数与成本
func (f *flight) claim() bool {
	return f.claimed.CompareAndSwap(false, true)
}

// canceled 执行是否因取消而中止
func (f *flight) canceled() bool {
	for _, e := range f.res.Errors {
		if e.Code == CodeCanceled {
			return true
		}
	}
	return false
}

// coalesced 合并相同请求。共享执行不随任一调用方取消，各调用方只在自己的 ctx 上等待。
func (r *Router) coalesced(ctx context.Context, key string, quality models.Quality, work func(context.Context) *flight) (*flight, bool) {
	if err := ctx.Err(); err != nil {
		return canceledFlight(err, quality), true
	}

	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return work(shared), nil
	})

	select {
	case v := <-ch:
		fl := v.Val.(*flight)
		if fl.canceled() && ctx.Err() == nil {
			// 共享执行的取消不属于本请求，独立重跑
			r.logger.Debug("合并执行已取消，独立重试", zap.String("key", key))
			return work(ctx), true
		}
		return fl, fl.claim()
	case <-ctx.Done():
		return canceledFlight(ctx.Err(), quality), true
	}
}

func canceledFlight(err error, quality models.Quality) *flight {
	trail := []AttemptError{{Phase: PhaseInvoke, Code: CodeCanceled, Message: err.Error()}}
	res := failed(ReasonFallbackExhausted, exhaustedMessage(trail), trail)
	res.Quality = quality
	return &flight{res: res}
}

// execute 候选选择与逐个尝试
func (r *Router) execute(ctx context.Context, rs *runState, tierMax models.Quality) RunResult {
	// 5. 候选选择：排除高于层级上限的模型
	options := make([]models.ModelOption, 0)
	for _, o := range r.registry.ListCandidates() {
		if o.Quality.Rank() <= tierMax.Rank() {
			options = append(options, o)
		}
	}
	candidates := BuildCandidates(options, rs.spec, rs.quality, rs.spec.RequiresJSON)
	if len(candidates) == 0 {
		res := failed(ReasonFallbackExhausted, fmt.Sprintf("no eligible candidates for task %s at quality %s", rs.spec.TaskID, rs.quality), nil)
		res.Quality = rs.quality
		return res
	}

	if _, _, err := r.prompts.Build(rs.spec, rs.input.Input, rs.schema, StrictnessNormal); err != nil {
		rs.fail(AttemptError{Phase: PhaseDispatch, Code: CodePromptBuild, Message: err.Error()})
		res := failed(ReasonFallbackExhausted, "task input could not be rendered into a prompt", rs.trail)
		res.Quality = rs.quality
		return res
	}

	// 6. 逐个候选顺序尝试
	var last *models.ModelOption
	for i := range candidates {
		cand := candidates[i]

		if ctx.Err() != nil {
			rs.fail(canceledError(cand, 0, ctx.Err()))
			break
		}
		if r.health.IsCircuitOpen(cand.Provider) {
			rs.fail(AttemptError{Provider: cand.Provider, Model: cand.ModelID, Phase: PhaseCircuit, Code: ReasonCircuitOpen, Message: "provider circuit is open"})
			continue
		}
		exec, ok := r.executors[cand.Provider]
		if !ok || exec == nil {
			rs.fail(AttemptError{Provider: cand.Provider, Model: cand.ModelID, Phase: PhaseDispatch, Code: CodeExecutorUnavailable, Message: "no executor registered for provider"})
			continue
		}

		last = &candidates[i]
		out := r.runCandidate(ctx, rs, cand, exec)
		if out.outcome == outcomeSuccess {
			rs.usage = out.usage
			return RunResult{
				OK:           true,
				Output:       out.output,
				Raw:          out.raw,
				Provider:     cand.Provider,
				Model:        cand.ModelID,
				Quality:      rs.quality,
				Reason:       ReasonOK,
				CostEstimate: out.usage.Cost,
				Errors:       rs.trail,
			}
		}
		if out.canceled {
			break
		}
	}

	// 7. 全部用尽
	res := failed(ReasonFallbackExhausted, exhaustedMessage(rs.trail), rs.trail)
	res.Quality = rs.quality
	if last != nil {
		res.Provider = last.Provider
		res.Model = last.ModelID
	}
	r.logger.Warn("任务降级链已用尽",
		zap.String("trace_id", rs.input.TraceID),
		zap.String("task", rs.spec.TaskID),
		zap.Int("attempts", rs.attempts),
		zap.String("errors", JoinTrail(rs.trail)),
	)
	return res
}

// lookup 查询缓存，命中时返回成本为 0 的结果
func (r *Router) lookup(ctx context.Context, key string, effective models.Quality, clamped bool, requested, tierMax models.Quality) (RunResult, bool) {
	raw, ok := r.cache.Get(ctx, key)
	if !ok {
		return RunResult{}, false
	}
	var cached cachedResult
	if err := json.Unmarshal(raw, &cached); err != nil {
		r.logger.Warn("缓存内容损坏，按未命中处理", zap.String("key", key), zap.Error(err))
		return RunResult{}, false
	}

	res := RunResult{
		OK:       true,
		Output:   cached.Output,
		Raw:      cached.Raw,
		Provider: cached.Provider,
		Model:    cached.Model,
		Quality:  effective,
		Reason:   ReasonOK,
		CacheHit: true,
	}
	if clamped {
		res.Reason = ReasonQualityClamped
		res.Message = clampMessage(requested, tierMax)
	}
	return res, true
}

// store 写入缓存，失败不影响结果
func (r *Router) store(ctx context.Context, key string, res RunResult, spec *models.TaskSpec, tier models.UserTier, quality models.Quality, ttl time.Duration) {
	payload, err := json.Marshal(cachedResult{Output: res.Output, Raw: res.Raw, Provider: res.Provider, Model: res.Model})
	if err != nil {
		r.logger.Warn("序列化缓存结果失败", zap.String("task", spec.TaskID), zap.Error(err))
		return
	}
	r.cache.Set(ctx, key, payload, cache.EntryMeta{Task: spec.TaskID, Tier: string(tier), Quality: string(quality)}, ttl)
}

// emit 发送遥测，吞掉接收端 panic
func (r *Router) emit(ctx context.Context, rec *InvocationRecord) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("遥测接收端异常", zap.Any("panic", p), zap.String("trace_id", rec.TraceID))
		}
	}()
	r.telemetry.LogInvocation(ctx, rec)
}

func failed(reason, message string, trail []AttemptError) RunResult {
	return RunResult{OK: false, Reason: reason, Message: message, Errors: trail}
}

// fillRecord 用结果补全遥测记录
func fillRecord(rec *InvocationRecord, res RunResult) *InvocationRecord {
	rec.Provider = res.Provider
	rec.Model = res.Model
	rec.Reason = res.Reason
	rec.Success = res.OK
	rec.CacheHit = res.CacheHit
	rec.CostEstimate = res.CostEstimate
	rec.OutputChars = utf8.RuneCountInString(res.Raw)
	rec.Errors = res.Errors
	if !res.OK {
		rec.ErrorCode = res.Reason
		rec.ErrorMessage = res.Message
	}
	return rec
}

func clampMessage(requested, tierMax models.Quality) string {
	return fmt.Sprintf("requested quality %s exceeds tier maximum; clamped to %s", requested, tierMax)
}

func exhaustedMessage(trail []AttemptError) string {
	if len(trail) == 0 {
		return "all candidates exhausted"
	}
	return "all candidates exhausted: " + JoinTrail(trail)
}

// inputChars 输入序列化后的字符数，无法序列化时为 0
func inputChars(input any) int {
	if s, ok := input.(string); ok {
		return utf8.RuneCountInString(s)
	}
	b, err := json.Marshal(input)
	if err != nil {
		return 0
	}
	return utf8.RuneCount(b)
}

// allowAll 未配置健康追踪时的默认实现
type allowAll struct{}

func (allowAll) CheckTierCap(context.Context, string, models.UserTier, models.Quality) models.CapDecision {
	return models.CapDecision{Allowed: true}
}
func (allowAll) IsCircuitOpen(models.Provider) bool { return false }
func (allowAll) RecordResult(models.Provider, bool) {}
