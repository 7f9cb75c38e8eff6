package health

import (
	"context"
	"fmt"
	"time"

	"taskrouter/internal/models"

	"go.uber.org/zap"
)

// CodeTierCap 层级限额拒绝码
const CodeTierCap = "tier_cap"

// TierCapChecker 根据层级限额与当月用量决定是否放行
type TierCapChecker struct {
	limits map[models.UserTier]models.TierLimits
	store  UsageStore
	logger *zap.Logger
	now    func() time.Time
}

// NewTierCapChecker 创建限额检查器，limits 为空时使用默认限额
func NewTierCapChecker(limits map[models.UserTier]models.TierLimits, store UsageStore, logger *zap.Logger) *TierCapChecker {
	if len(limits) == 0 {
		limits = models.DefaultTierLimits()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TierCapChecker{
		limits: limits,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Limits 返回层级限额，未知层级按最低层级处理
func (c *TierCapChecker) Limits(tier models.UserTier) models.TierLimits {
	if l, ok := c.limits[tier]; ok {
		return l
	}
	return c.limits[models.TierFree]
}

// Check 检查 (user, tier, quality) 是否允许运行
// 匿名调用（userID 为空）与用量存储故障时放行。
func (c *TierCapChecker) Check(ctx context.Context, userID string, tier models.UserTier, quality models.Quality) models.CapDecision {
	if userID == "" || c.store == nil {
		return models.CapDecision{Allowed: true}
	}

	limits := c.Limits(tier)
	if limits.MonthlyRuns < 0 && (quality != models.QualityHigh || limits.MonthlyHighRuns < 0) {
		return models.CapDecision{Allowed: true}
	}

	now := c.now()
	usage, err := c.store.GetUsage(ctx, userID, models.UsagePeriod(now))
	if err != nil {
		c.logger.Warn("读取用量失败，放行本次请求",
			zap.String("user_id", userID),
			zap.String("tier", string(tier)),
			zap.Error(err),
		)
		return models.CapDecision{Allowed: true}
	}

	if limits.MonthlyRuns >= 0 && usage.Runs >= limits.MonthlyRuns {
		return c.deny(tier, fmt.Sprintf("monthly run limit reached for tier %s (%d runs)", tier, limits.MonthlyRuns), now)
	}
	if quality == models.QualityHigh && limits.MonthlyHighRuns >= 0 && usage.HighRuns >= limits.MonthlyHighRuns {
		return c.deny(tier, fmt.Sprintf("monthly high-quality run limit reached for tier %s (%d runs)", tier, limits.MonthlyHighRuns), now)
	}
	return models.CapDecision{Allowed: true}
}

// deny 顶级层级提示等待下个周期，其它层级提示升级
func (c *TierCapChecker) deny(tier models.UserTier, reason string, now time.Time) models.CapDecision {
	msg := reason + "; upgrade to raise your limit"
	if tier.IsTop() {
		msg = fmt.Sprintf("%s; limit resets next period (%s)", reason, models.NextPeriodStart(now).Format("2006-01-02"))
	}
	return models.CapDecision{Allowed: false, Code: CodeTierCap, Message: msg}
}
