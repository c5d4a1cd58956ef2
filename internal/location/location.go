package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoLocationAvailable 所有定位策略耗尽
// 调用方必须将其视为本次检查的终止条件，不在同一次检查内继续重试
var ErrNoLocationAvailable = errors.New("no location available")

// 定位来源标记：记录是哪个策略给出的坐标，用于排查 GPS 失败
const (
	SourceCached       = "cached"        // 新鲜的缓存定位
	SourceHighAccuracy = "high_accuracy" // 高精度定位请求
	SourceRetry        = "retry"         // 降级精度的重试定位
	SourceStale        = "stale"         // 过期的缓存定位
	SourceFallback     = "fallback"      // 最后一次行驶中的位置
	SourceSignal       = "signal"        // 停车信号自带的坐标
)

// Fix 一次定位结果
type Fix struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AccuracyM  float64   `json:"accuracy_m"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Request 向平台定位能力发起的请求参数
type Request struct {
	AccuracyM float64       `json:"accuracy_m"`
	Timeout   time.Duration `json:"-"`
}

// Provider 平台定位能力（生产环境由设备通道实现，测试用假实现）
type Provider interface {
	RequestFix(ctx context.Context, req Request) (*Fix, error)
}

// Options 降级链参数
type Options struct {
	CachedMaxAccuracyM  float64
	CachedFreshness     time.Duration
	HighAccuracyTimeout time.Duration
	BackgroundTimeout   time.Duration
	RelaxedAccuracyM    float64
	RelaxedRetryCount   int
}

// Strategy 统一的定位策略契约
// 把嵌套的失败回退展开成一个有序列表，使回退顺序成为可测试的声明式属性
type Strategy struct {
	Source  string
	Attempt func(ctx context.Context) (*Fix, error)
}

// Adapter 定位源适配器
// 按优先级依次尝试各个策略，牺牲精度换取可用性：
// 后台状态下的定位很不可靠，宁可用过期或低精度的坐标也不要没有坐标
type Adapter struct {
	logger   *zap.Logger
	provider Provider
	opts     Options

	mu             sync.RWMutex
	lastFix        *Fix // 最近一次成功定位（缓存）
	lastDrivingFix *Fix // 最近一次行驶中上报的位置
	background     bool // 应用是否处于后台（影响高精度定位超时）
}

// NewAdapter 创建适配器
func NewAdapter(logger *zap.Logger, provider Provider, opts Options) *Adapter {
	return &Adapter{
		logger:   logger,
		provider: provider,
		opts:     opts,
	}
}

// SetBackground 标记应用前后台状态
func (a *Adapter) SetBackground(background bool) {
	a.mu.Lock()
	a.background = background
	a.mu.Unlock()
}

// NoteFix 记录一次成功定位（更新缓存）
func (a *Adapter) NoteFix(fix *Fix) {
	if fix == nil {
		return
	}
	a.mu.Lock()
	a.lastFix = fix
	a.mu.Unlock()
}

// NoteDrivingFix 记录行驶中的位置（作为最后的兜底策略）
func (a *Adapter) NoteDrivingFix(fix *Fix) {
	if fix == nil {
		return
	}
	a.mu.Lock()
	a.lastDrivingFix = fix
	a.mu.Unlock()
}

// LastFix 获取缓存的最近定位
func (a *Adapter) LastFix() *Fix {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastFix
}

// Acquire 按降级链解析一个尽力而为的定位
// 每个成功结果都带上满足它的策略标记，作为停车记录的来源溯源
func (a *Adapter) Acquire(ctx context.Context) (*Fix, error) {
	for _, s := range a.Strategies() {
		fix, err := s.Attempt(ctx)
		if err != nil {
			a.logger.Debug("Location strategy failed",
				zap.String("strategy", s.Source),
				zap.Error(err))
			continue
		}

		resolved := *fix
		resolved.Source = s.Source
		a.logger.Info("Location resolved",
			zap.String("strategy", s.Source),
			zap.Float64("accuracy_m", resolved.AccuracyM))
		return &resolved, nil
	}

	return nil, ErrNoLocationAvailable
}

// Strategies 返回有序的策略列表
func (a *Adapter) Strategies() []Strategy {
	return []Strategy{
		{Source: SourceCached, Attempt: a.attemptCached},
		{Source: SourceHighAccuracy, Attempt: a.attemptHighAccuracy},
		{Source: SourceRetry, Attempt: a.attemptRelaxedRetry},
		{Source: SourceStale, Attempt: a.attemptStale},
		{Source: SourceFallback, Attempt: a.attemptLastDriving},
	}
}

// attemptCached 缓存定位：精度和新鲜度都达标才采用
func (a *Adapter) attemptCached(_ context.Context) (*Fix, error) {
	a.mu.RLock()
	fix := a.lastFix
	a.mu.RUnlock()

	if fix == nil {
		return nil, errors.New("no cached fix")
	}
	if fix.AccuracyM > a.opts.CachedMaxAccuracyM {
		return nil, fmt.Errorf("cached fix too coarse: %.0fm", fix.AccuracyM)
	}
	if age := time.Since(fix.RecordedAt); age > a.opts.CachedFreshness {
		return nil, fmt.Errorf("cached fix too old: %s", age.Round(time.Second))
	}
	return fix, nil
}

// attemptHighAccuracy 高精度定位：后台状态用更长的超时
func (a *Adapter) attemptHighAccuracy(ctx context.Context) (*Fix, error) {
	a.mu.RLock()
	background := a.background
	a.mu.RUnlock()

	timeout := a.opts.HighAccuracyTimeout
	if background {
		timeout = a.opts.BackgroundTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fix, err := a.provider.RequestFix(reqCtx, Request{
		AccuracyM: a.opts.CachedMaxAccuracyM,
		Timeout:   timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("high accuracy fix: %w", err)
	}

	a.NoteFix(fix)
	return fix, nil
}

// attemptRelaxedRetry 降级精度后有限次重试
func (a *Adapter) attemptRelaxedRetry(ctx context.Context) (*Fix, error) {
	var lastErr error
	for i := 0; i < a.opts.RelaxedRetryCount; i++ {
		reqCtx, cancel := context.WithTimeout(ctx, a.opts.HighAccuracyTimeout)
		fix, err := a.provider.RequestFix(reqCtx, Request{
			AccuracyM: a.opts.RelaxedAccuracyM,
			Timeout:   a.opts.HighAccuracyTimeout,
		})
		cancel()

		if err == nil {
			a.NoteFix(fix)
			return fix, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no retry attempts configured")
	}
	return nil, fmt.Errorf("relaxed retry exhausted: %w", lastErr)
}

// attemptStale 过期缓存：不管多旧，有就用
func (a *Adapter) attemptStale(_ context.Context) (*Fix, error) {
	a.mu.RLock()
	fix := a.lastFix
	a.mu.RUnlock()

	if fix == nil {
		return nil, errors.New("no stale fix")
	}
	return fix, nil
}

// attemptLastDriving 最后一次行驶中的位置，作为"停车点附近"的代理
func (a *Adapter) attemptLastDriving(_ context.Context) (*Fix, error) {
	a.mu.RLock()
	fix := a.lastDrivingFix
	a.mu.RUnlock()

	if fix == nil {
		return nil, errors.New("no driving fix recorded")
	}
	return fix, nil
}
