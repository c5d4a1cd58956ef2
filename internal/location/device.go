package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pusher 向设备推送定位请求的通道（由 WebSocket Hub 实现）
type Pusher interface {
	PushLocationRequest(vehicleID int64, accuracyM float64)
}

// DeviceProvider 设备定位通道
// 通过 WebSocket 向设备推送定位请求，等待设备经 API 上报定位结果
type DeviceProvider struct {
	logger    *zap.Logger
	vehicleID int64
	pusher    Pusher

	mu      sync.Mutex
	waiters []chan *Fix
}

// NewDeviceProvider 创建设备定位通道
func NewDeviceProvider(logger *zap.Logger, vehicleID int64, pusher Pusher) *DeviceProvider {
	return &DeviceProvider{
		logger:    logger,
		vehicleID: vehicleID,
		pusher:    pusher,
	}
}

// RequestFix 请求一次定位
// 推送请求后阻塞等待设备上报，由调用方的 context 控制超时
func (p *DeviceProvider) RequestFix(ctx context.Context, req Request) (*Fix, error) {
	ch := make(chan *Fix, 1)

	p.mu.Lock()
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	defer p.removeWaiter(ch)

	p.pusher.PushLocationRequest(p.vehicleID, req.AccuracyM)

	select {
	case fix := <-ch:
		// 设备给出的结果仍可能不满足请求精度，按请求精度过滤
		if req.AccuracyM > 0 && fix.AccuracyM > req.AccuracyM {
			return nil, fmt.Errorf("reported fix too coarse: %.0fm > %.0fm", fix.AccuracyM, req.AccuracyM)
		}
		return fix, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for device fix: %w", ctx.Err())
	}
}

// Deliver 设备上报定位时由 API 处理器调用，唤醒所有等待者
func (p *DeviceProvider) Deliver(fix *Fix) {
	if fix.RecordedAt.IsZero() {
		fix.RecordedAt = time.Now()
	}

	p.mu.Lock()
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- fix:
		default:
		}
	}

	if len(waiters) > 0 {
		p.logger.Debug("Delivered device fix to waiters",
			zap.Int64("vehicle_id", p.vehicleID),
			zap.Int("waiters", len(waiters)))
	}
}

func (p *DeviceProvider) removeWaiter(ch chan *Fix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}
