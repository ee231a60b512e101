// Package safety は実験の安全制御を提供する。
//
// Controller はヘルスメトリクスに基づく中断判定、サーキットブレーカー、
// 保護対象・時間帯・影響範囲のチェック、緊急停止を担う。
package safety

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chaos-mcp/internal/config"
	"chaos-mcp/internal/events"
	"chaos-mcp/internal/observability"
)

// HealthSource は安全判定に使うヘルスメトリクスの供給元
type HealthSource interface {
	ErrorRate() float64
	SuccessRate() float64
	LatencyP99() time.Duration
}

// Controller は実験の安全制御を行う
// CheckSafety は複数のゴルーチンから同時に呼んでよい
type Controller struct {
	config   config.SafetyConfig
	logger   *zap.Logger
	eventBus *events.Bus

	emergency atomic.Bool

	mu          sync.Mutex
	breakerOpen bool
	failures    int
	lastFailure time.Time

	protected map[string]struct{}
}

// New は新しい安全コントローラを作成する
func New(cfg config.SafetyConfig, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}

	protected := make(map[string]struct{},
		len(cfg.ProtectedServices)+len(cfg.ProtectedHosts))
	for _, s := range cfg.ProtectedServices {
		protected[s] = struct{}{}
	}
	for _, h := range cfg.ProtectedHosts {
		protected[h] = struct{}{}
	}

	return &Controller{
		config:    cfg,
		logger:    logger,
		protected: protected,
	}
}

// SetEventBus はイベントバスを設定する
func (c *Controller) SetEventBus(bus *events.Bus) {
	c.eventBus = bus
}

// CheckSafety は実験を続行してよいかを判定する
//
// 判定順序: 無効 → 緊急停止 → ブレーカー開（タイムアウト後に自動クローズ）
// → エラー率 → レイテンシ → 成功率。しきい値違反が続くとブレーカーが開く。
func (c *Controller) CheckSafety(_ context.Context, source HealthSource) (bool, []string) {
	if !c.config.Enabled {
		return true, nil
	}

	if c.emergency.Load() {
		return false, []string{"emergency stop triggered"}
	}

	c.mu.Lock()
	if c.breakerOpen {
		elapsed := time.Since(c.lastFailure)
		if elapsed < c.config.CircuitBreakerTimeout {
			remaining := c.config.CircuitBreakerTimeout - elapsed
			c.mu.Unlock()
			return false, []string{
				fmt.Sprintf("circuit breaker open (wait %.1fs)", remaining.Seconds()),
			}
		}
		c.breakerOpen = false
		c.failures = 0
		c.logger.Info("circuit breaker reset")
	}
	c.mu.Unlock()

	var reasons []string

	if rate := source.ErrorRate(); rate > c.config.MaxErrorRate {
		reasons = append(reasons, fmt.Sprintf(
			"error rate too high: %.2f > %.2f", rate, c.config.MaxErrorRate))
	}
	if p99 := source.LatencyP99(); p99 > c.config.MaxLatency {
		reasons = append(reasons, fmt.Sprintf(
			"latency too high: %v > %v", p99, c.config.MaxLatency))
	}
	if rate := source.SuccessRate(); rate < c.config.MinSuccessRate {
		reasons = append(reasons, fmt.Sprintf(
			"success rate too low: %.2f < %.2f", rate, c.config.MinSuccessRate))
	}

	if len(reasons) > 0 {
		c.mu.Lock()
		c.failures++
		threshold := c.config.CircuitBreakerThreshold
		if threshold <= 0 {
			threshold = 3
		}
		if c.failures >= threshold && !c.breakerOpen {
			c.breakerOpen = true
			c.lastFailure = time.Now()
			c.logger.Warn("circuit breaker tripped",
				zap.Int("failures", c.failures))
			observability.SafetyTriggers.WithLabelValues("circuit_breaker").Inc()
		}
		c.mu.Unlock()
	}

	return len(reasons) == 0, reasons
}

// IsTargetProtected は対象が保護されているかどうかを返す
func (c *Controller) IsTargetProtected(target string) bool {
	_, ok := c.protected[target]
	return ok
}

// IsTimeAllowed は現在時刻が許可された時間帯かどうかを返す
// 時間帯の指定がなければ常に許可する
func (c *Controller) IsTimeAllowed() bool {
	if len(c.config.AllowedTimeWindows) == 0 {
		return true
	}

	now := time.Now()
	for _, w := range c.config.AllowedTimeWindows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}

// BlastRadiusOK は影響対象の数が上限以内かどうかを返す
func (c *Controller) BlastRadiusOK(targets []string) bool {
	return len(targets) <= c.config.MaxAffectedInstances
}

// TriggerEmergencyStop は緊急停止を発動する
// 二度目以降の呼び出しは何もしない。緊急連絡先への通知は
// 結果を待たずに投げ放しで行う
func (c *Controller) TriggerEmergencyStop(reason string) {
	if c.emergency.Swap(true) {
		return
	}

	c.logger.Error("EMERGENCY STOP", zap.String("reason", reason))
	observability.SafetyTriggers.WithLabelValues("emergency_stop").Inc()

	if c.eventBus != nil {
		c.eventBus.Publish(events.NewEmergencyStopEvent(reason))
	}

	contacts := c.config.EmergencyContacts
	if len(contacts) > 0 {
		go func() {
			for _, contact := range contacts {
				c.logger.Info("would notify emergency contact",
					zap.String("contact", contact))
			}
		}()
	}
}

// EmergencyStopped は緊急停止が発動済みかどうかを返す
func (c *Controller) EmergencyStopped() bool {
	return c.emergency.Load()
}

// BreakerOpen はブレーカーが開いているかどうかを返す
func (c *Controller) BreakerOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breakerOpen
}
