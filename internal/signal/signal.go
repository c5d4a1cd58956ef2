package signal

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/RandyVollrath/curbwatch/internal/location"
)

// 设备上报的原始信号类型
const (
	EventStoppedDriving = "stopped_driving" // 运动分类：停止驾驶（可带停车瞬间的坐标）
	EventStartedDriving = "started_driving" // 运动分类：开始驾驶
	EventConnected      = "connected"       // 配对设备连接（上车）
	EventDisconnected   = "disconnected"    // 配对设备断开（下车）
)

// Event 设备上报的信号
type Event struct {
	Type string        `json:"type"`
	Fix  *location.Fix `json:"fix,omitempty"`
}

// Callbacks 停车/起步回调
// OnStoppedDriving 的坐标仅运动分类源提供，连接信号源传 nil
type Callbacks struct {
	OnStoppedDriving func(fix *location.Fix)
	OnStartedDriving func()
}

// Source 信号源
// 同一时刻只有一种机制处于激活状态，两条路径不会并发执行
type Source interface {
	Name() string
	Start(cb Callbacks)
	Handle(ev Event)
	Stop()
}

// Capability 设备上报的平台能力
type Capability struct {
	MotionClassifier bool `json:"motion_classifier"`
	PairedAccessory  bool `json:"paired_accessory"`
}

// ErrNoMechanism 设备不具备任何可用的信号机制
var ErrNoMechanism = errors.New("no signal mechanism available")

// Select 按平台能力选择信号源
// 优先运动分类；初始化不了时降级到连接信号并输出诊断日志
func Select(logger *zap.Logger, capability Capability, preferMotion bool) (Source, error) {
	if preferMotion && capability.MotionClassifier {
		return NewMotionSource(logger), nil
	}
	if capability.PairedAccessory {
		if preferMotion {
			logger.Warn("Motion classifier unavailable, degrading to connectivity signal")
		}
		return NewConnectivitySource(logger), nil
	}
	if capability.MotionClassifier {
		return NewMotionSource(logger), nil
	}
	return nil, ErrNoMechanism
}

// MotionSource 运动分类信号源
// 底层服务自己判定停止/开始驾驶，并在停止瞬间捕获坐标：
// 这避免了"下车走远"导致的位置漂移
type MotionSource struct {
	logger *zap.Logger

	mu      sync.RWMutex
	cb      Callbacks
	started bool
}

// NewMotionSource 创建运动分类信号源
func NewMotionSource(logger *zap.Logger) *MotionSource {
	return &MotionSource{logger: logger}
}

func (s *MotionSource) Name() string { return "motion" }

// Start 注册回调
func (s *MotionSource) Start(cb Callbacks) {
	s.mu.Lock()
	s.cb = cb
	s.started = true
	s.mu.Unlock()
	s.logger.Info("Motion signal source started")
}

// Stop 停止分发
func (s *MotionSource) Stop() {
	s.mu.Lock()
	s.started = false
	s.cb = Callbacks{}
	s.mu.Unlock()
}

// Handle 分发设备上报的运动事件
func (s *MotionSource) Handle(ev Event) {
	s.mu.RLock()
	cb := s.cb
	started := s.started
	s.mu.RUnlock()

	if !started {
		return
	}

	switch ev.Type {
	case EventStoppedDriving:
		if ev.Fix != nil {
			ev.Fix.Source = location.SourceSignal
		}
		if cb.OnStoppedDriving != nil {
			cb.OnStoppedDriving(ev.Fix)
		}
	case EventStartedDriving:
		if cb.OnStartedDriving != nil {
			cb.OnStartedDriving()
		}
	default:
		s.logger.Debug("Ignoring event for motion source", zap.String("type", ev.Type))
	}
}

// ConnectivitySource 连接信号源
// 只有连接/断开的二元信号，不带坐标
type ConnectivitySource struct {
	logger *zap.Logger

	mu      sync.RWMutex
	cb      Callbacks
	started bool
}

// NewConnectivitySource 创建连接信号源
func NewConnectivitySource(logger *zap.Logger) *ConnectivitySource {
	return &ConnectivitySource{logger: logger}
}

func (s *ConnectivitySource) Name() string { return "connectivity" }

// Start 注册回调
func (s *ConnectivitySource) Start(cb Callbacks) {
	s.mu.Lock()
	s.cb = cb
	s.started = true
	s.mu.Unlock()
	s.logger.Info("Connectivity signal source started")
}

// Stop 停止分发
func (s *ConnectivitySource) Stop() {
	s.mu.Lock()
	s.started = false
	s.cb = Callbacks{}
	s.mu.Unlock()
}

// Handle 分发连接/断开事件
func (s *ConnectivitySource) Handle(ev Event) {
	s.mu.RLock()
	cb := s.cb
	started := s.started
	s.mu.RUnlock()

	if !started {
		return
	}

	switch ev.Type {
	case EventDisconnected:
		// 连接信号不带坐标，由定位适配器解析
		if cb.OnStoppedDriving != nil {
			cb.OnStoppedDriving(nil)
		}
	case EventConnected:
		if cb.OnStartedDriving != nil {
			cb.OnStartedDriving()
		}
	default:
		s.logger.Debug("Ignoring event for connectivity source", zap.String("type", ev.Type))
	}
}
