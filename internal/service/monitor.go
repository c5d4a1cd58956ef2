package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RandyVollrath/curbwatch/internal/config"
	"github.com/RandyVollrath/curbwatch/internal/location"
	"github.com/RandyVollrath/curbwatch/internal/models"
	"github.com/RandyVollrath/curbwatch/internal/notify"
	"github.com/RandyVollrath/curbwatch/internal/signal"
	"github.com/RandyVollrath/curbwatch/internal/state"
)

// ErrNotMonitored 车辆没有激活的监控会话
var ErrNotMonitored = errors.New("vehicle not monitored")

// StateStore 监控状态持久化
type StateStore interface {
	Get(ctx context.Context, vehicleID int64) (*models.MonitoringState, error)
	Upsert(ctx context.Context, ms *models.MonitoringState) error
}

// ParkingStore 停车记录持久化
type ParkingStore interface {
	Create(ctx context.Context, loc *models.ParkingLocation) error
	SetAddress(ctx context.Context, id int64, streetSegment, address string) error
	GetActive(ctx context.Context, vehicleID int64) (*models.ParkingLocation, error)
	CloseActive(ctx context.Context, vehicleID int64, departedAt time.Time) (*models.ParkingLocation, error)
	SaveDepartureEvidence(ctx context.Context, id int64, distanceM float64, conclusive bool, confirmedAt time.Time) error
}

// ConfirmationStore 离开确认持久化
type ConfirmationStore interface {
	Replace(ctx context.Context, conf *models.PendingConfirmation) error
	Get(ctx context.Context, vehicleID int64) (*models.PendingConfirmation, error)
	UpdateRetry(ctx context.Context, id int64, retryCount int, scheduledAt time.Time) error
	Delete(ctx context.Context, vehicleID int64) error
}

// RestrictionStore 限停提醒持久化
type RestrictionStore interface {
	CreateBatch(ctx context.Context, restrictions []*models.ParkingRestriction) error
	CancelForLocation(ctx context.Context, parkingLocationID int64) (int64, error)
}

// RulesChecker 停车规则查询
type RulesChecker interface {
	Check(ctx context.Context, lat, lng float64) (*models.RuleSet, error)
}

// Broadcaster 实时推送通道（由 WebSocket Hub 实现）
type Broadcaster interface {
	BroadcastMonitorUpdate(st interface{})
	PushLocationRequest(vehicleID int64, accuracyM float64)
}

// vehicleMonitor 单辆车的监控运行时
type vehicleMonitor struct {
	vehicleID int64
	adapter   *location.Adapter
	provider  *location.DeviceProvider
	source    signal.Source

	mu               sync.Mutex
	lastDisconnectAt time.Time
	lastCheckAt      time.Time
	checkComplete    bool // 本次停车周期是否已完成检查

	confirmTimer   *time.Timer   // 进行中的离开确认定时器
	reminderTimers []*time.Timer // 当前停车位置的限停提醒定时器
}

// MonitorService 停车监控服务
// 每辆车持有独立的信号源、定位适配器和状态机；
// 周期性兜底检查覆盖实时信号漏报的情况
type MonitorService struct {
	cfg         *config.Config
	logger      *zap.Logger
	stateRepo   StateStore
	parkingRepo ParkingStore
	confirmRepo ConfirmationStore
	restRepo    RestrictionStore
	rules       RulesChecker
	hub         Broadcaster
	notifier    notify.Notifier

	stateManager *state.Manager

	mu       sync.RWMutex
	monitors map[int64]*vehicleMonitor
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// NewMonitorService 创建停车监控服务
func NewMonitorService(
	cfg *config.Config,
	logger *zap.Logger,
	stateRepo StateStore,
	parkingRepo ParkingStore,
	confirmRepo ConfirmationStore,
	restRepo RestrictionStore,
	rules RulesChecker,
	hub Broadcaster,
	notifier notify.Notifier,
) *MonitorService {
	svc := &MonitorService{
		cfg:         cfg,
		logger:      logger,
		stateRepo:   stateRepo,
		parkingRepo: parkingRepo,
		confirmRepo: confirmRepo,
		restRepo:    restRepo,
		rules:       rules,
		hub:         hub,
		notifier:    notifier,
		monitors:    make(map[int64]*vehicleMonitor),
		stopCh:      make(chan struct{}),
	}

	svc.stateManager = state.NewManager(svc.onStateChange)

	return svc
}

// Start 启动服务（兜底检查循环）
func (s *MonitorService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Monitor service already running, skipping start")
		return nil
	}
	// 重新初始化 stopCh（防止重复启动问题）
	s.stopCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting monitor service")

	s.wg.Add(1)
	go s.backupCheckLoop()

	s.logger.Info("Monitor service started, backup check loop running")
	return nil
}

// Stop 停止服务
func (s *MonitorService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	monitors := make([]*vehicleMonitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		monitors = append(monitors, m)
	}
	s.mu.Unlock()

	for _, m := range monitors {
		m.source.Stop()
		m.mu.Lock()
		if m.confirmTimer != nil {
			m.confirmTimer.Stop()
			m.confirmTimer = nil
		}
		for _, timer := range m.reminderTimers {
			timer.Stop()
		}
		m.reminderTimers = m.reminderTimers[:0]
		m.mu.Unlock()
	}

	s.wg.Wait()
	s.logger.Info("Monitor service stopped")
}

// StartMonitoring 为车辆开启监控会话
// 按设备能力选择信号源；会话状态从持久化记录恢复，
// 没有历史记录时假定为行驶中
func (s *MonitorService) StartMonitoring(ctx context.Context, vehicleID int64, capability signal.Capability) error {
	s.mu.Lock()
	if _, ok := s.monitors[vehicleID]; ok {
		s.mu.Unlock()
		s.logger.Info("Monitoring already active", zap.Int64("vehicle_id", vehicleID))
		return nil
	}
	s.mu.Unlock()

	source, err := signal.Select(s.logger, capability, s.cfg.PreferMotionSignal)
	if err != nil {
		return fmt.Errorf("select signal source: %w", err)
	}

	provider := location.NewDeviceProvider(s.logger, vehicleID, s.hub)
	adapter := location.NewAdapter(s.logger, provider, location.Options{
		CachedMaxAccuracyM:  s.cfg.CachedMaxAccuracyM,
		CachedFreshness:     s.cfg.CachedFreshness,
		HighAccuracyTimeout: s.cfg.HighAccuracyTimeout,
		BackgroundTimeout:   s.cfg.BackgroundGPSTimeout,
		RelaxedAccuracyM:    s.cfg.RelaxedAccuracyM,
		RelaxedRetryCount:   s.cfg.RelaxedRetryCount,
	})

	m := &vehicleMonitor{
		vehicleID: vehicleID,
		adapter:   adapter,
		provider:  provider,
		source:    source,
	}

	// 进程重启后从持久化状态恢复停车周期，
	// 不能把已停车的车辆重置回行驶中
	initial := state.StateDriving
	resumed := &models.MonitoringState{
		VehicleID:  vehicleID,
		Active:     true,
		Connection: models.ConnectionConnected,
	}
	if prior, err := s.stateRepo.Get(ctx, vehicleID); err == nil &&
		prior.Connection == models.ConnectionDisconnected && prior.LastDisconnectAt != nil {
		initial = state.StateParked
		resumed.Connection = models.ConnectionDisconnected
		resumed.LastDisconnectAt = prior.LastDisconnectAt
		resumed.LastCheckAt = prior.LastCheckAt
		m.lastDisconnectAt = *prior.LastDisconnectAt
		if prior.LastCheckAt != nil {
			m.lastCheckAt = *prior.LastCheckAt
			// 断开之后完成过检查才算本周期已检查，否则留给兜底补检
			m.checkComplete = !prior.LastCheckAt.Before(*prior.LastDisconnectAt)
		}
	}

	s.mu.Lock()
	s.monitors[vehicleID] = m
	s.mu.Unlock()

	s.stateManager.GetOrCreate(vehicleID, initial)

	source.Start(signal.Callbacks{
		OnStoppedDriving: func(fix *location.Fix) { s.handleStoppedDriving(vehicleID, fix) },
		OnStartedDriving: func() { s.handleStartedDriving(vehicleID) },
	})

	s.persistState(ctx, resumed)

	s.logger.Info("Monitoring started",
		zap.Int64("vehicle_id", vehicleID),
		zap.String("signal_source", source.Name()),
		zap.String("initial_state", initial))
	return nil
}

// StopMonitoring 关闭车辆的监控会话
func (s *MonitorService) StopMonitoring(ctx context.Context, vehicleID int64) error {
	s.mu.Lock()
	m, ok := s.monitors[vehicleID]
	if ok {
		delete(s.monitors, vehicleID)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotMonitored
	}

	m.source.Stop()
	m.mu.Lock()
	if m.confirmTimer != nil {
		m.confirmTimer.Stop()
		m.confirmTimer = nil
	}
	for _, timer := range m.reminderTimers {
		timer.Stop()
	}
	m.reminderTimers = m.reminderTimers[:0]
	m.mu.Unlock()

	s.stateManager.Remove(vehicleID)

	s.persistState(ctx, &models.MonitoringState{
		VehicleID:  vehicleID,
		Active:     false,
		Connection: models.ConnectionDisconnected,
	})

	s.logger.Info("Monitoring stopped", zap.Int64("vehicle_id", vehicleID))
	return nil
}

// GetMonitoring 查询车辆监控状态
func (s *MonitorService) GetMonitoring(ctx context.Context, vehicleID int64) (*models.MonitoringState, *state.SessionState, error) {
	ms, err := s.stateRepo.Get(ctx, vehicleID)
	if err != nil {
		return nil, nil, fmt.Errorf("get monitoring state: %w", err)
	}

	if machine, ok := s.stateManager.Get(vehicleID); ok {
		return ms, machine.GetState(), nil
	}
	return ms, nil, nil
}

// HandleSignal 接收设备上报的信号并路由到车辆的信号源
func (s *MonitorService) HandleSignal(vehicleID int64, ev signal.Event) error {
	m, ok := s.monitor(vehicleID)
	if !ok {
		return ErrNotMonitored
	}

	s.logger.Debug("Signal received",
		zap.Int64("vehicle_id", vehicleID),
		zap.String("type", ev.Type))

	m.source.Handle(ev)
	return nil
}

// DeliverFix 设备上报一次定位结果
// driving 表示车辆行驶中的位置上报，会记入兜底定位缓存
func (s *MonitorService) DeliverFix(vehicleID int64, fix *location.Fix, driving bool) error {
	m, ok := s.monitor(vehicleID)
	if !ok {
		return ErrNotMonitored
	}

	if fix.RecordedAt.IsZero() {
		fix.RecordedAt = time.Now()
	}

	if driving {
		fix.Source = location.SourceFallback
		m.adapter.NoteDrivingFix(fix)
	} else {
		m.adapter.NoteFix(fix)
	}

	// 唤醒等待定位结果的策略
	m.provider.Deliver(fix)
	return nil
}

// SetBackground 标记设备前后台状态（影响定位超时）
func (s *MonitorService) SetBackground(vehicleID int64, background bool) error {
	m, ok := s.monitor(vehicleID)
	if !ok {
		return ErrNotMonitored
	}
	m.adapter.SetBackground(background)
	return nil
}

// TriggerCheck 手动触发一次停车检查
// 绕过最短检查间隔限制；断开时间幂等键保证不会产生重复记录
func (s *MonitorService) TriggerCheck(ctx context.Context, vehicleID int64) error {
	m, ok := s.monitor(vehicleID)
	if !ok {
		return ErrNotMonitored
	}

	machine, ok := s.stateManager.Get(vehicleID)
	if !ok || machine.CurrentState() != state.StateParked {
		return fmt.Errorf("vehicle %d not parked", vehicleID)
	}

	m.mu.Lock()
	disconnectAt := m.lastDisconnectAt
	m.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.performParkingCheck(vehicleID, m, nil, disconnectAt)
	}()
	return nil
}

// handleStoppedDriving 停车信号回调
// fix 仅运动分类信号源提供；连接信号源传 nil，由定位降级链解析
func (s *MonitorService) handleStoppedDriving(vehicleID int64, fix *location.Fix) {
	m, ok := s.monitor(vehicleID)
	if !ok {
		return
	}

	machine, ok := s.stateManager.Get(vehicleID)
	if !ok {
		return
	}

	if !machine.CanTransition(state.EventStopDriving) {
		// 已处于停车状态，重复信号忽略
		s.logger.Debug("Ignoring stop signal, already parked", zap.Int64("vehicle_id", vehicleID))
		return
	}

	if err := machine.Trigger(state.EventStopDriving); err != nil {
		s.logger.Error("Failed to transition to parked",
			zap.Int64("vehicle_id", vehicleID),
			zap.Error(err))
		return
	}

	disconnectAt := time.Now()

	m.mu.Lock()
	m.lastDisconnectAt = disconnectAt
	m.checkComplete = false
	m.mu.Unlock()

	// 新的停车周期作废上一轮未完成的离开确认
	s.cancelConfirmation(context.Background(), vehicleID, m)

	s.persistState(context.Background(), &models.MonitoringState{
		VehicleID:        vehicleID,
		Active:           true,
		Connection:       models.ConnectionDisconnected,
		LastDisconnectAt: &disconnectAt,
	})

	s.logger.Info("Stop driving detected",
		zap.Int64("vehicle_id", vehicleID),
		zap.Bool("has_signal_fix", fix != nil))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.performParkingCheck(vehicleID, m, fix, disconnectAt)
	}()
}

// handleStartedDriving 起步信号回调，开启离开确认流程
func (s *MonitorService) handleStartedDriving(vehicleID int64) {
	m, ok := s.monitor(vehicleID)
	if !ok {
		return
	}

	machine, ok := s.stateManager.Get(vehicleID)
	if !ok {
		return
	}

	if !machine.CanTransition(state.EventStartDriving) {
		s.logger.Debug("Ignoring start signal, already driving", zap.Int64("vehicle_id", vehicleID))
		return
	}

	if err := machine.Trigger(state.EventStartDriving); err != nil {
		s.logger.Error("Failed to transition to driving",
			zap.Int64("vehicle_id", vehicleID),
			zap.Error(err))
		return
	}

	s.persistState(context.Background(), &models.MonitoringState{
		VehicleID:  vehicleID,
		Active:     true,
		Connection: models.ConnectionConnected,
	})

	s.logger.Info("Start driving detected", zap.Int64("vehicle_id", vehicleID))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.beginDepartureConfirmation(context.Background(), vehicleID, m)
	}()
}

// performParkingCheck 执行一次停车检查：解析定位、落库、查规则、排提醒
func (s *MonitorService) performParkingCheck(vehicleID int64, m *vehicleMonitor, sigFix *location.Fix, disconnectAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	now := time.Now()

	fix := sigFix
	if fix == nil {
		resolved, err := m.adapter.Acquire(ctx)
		if err != nil {
			// 定位全链路失败：终止本次检查，保持停车状态等兜底重试
			s.logger.Warn("Parking check aborted, no location",
				zap.Int64("vehicle_id", vehicleID),
				zap.Error(err))
			s.notifier.Notify(notify.Notification{
				VehicleID: vehicleID,
				Kind:      notify.KindLocationUnavailable,
				Severity:  notify.SeverityDiagnostic,
				Title:     "Could not determine parking location",
				Body:      "All location strategies failed. Will retry on the next backup check.",
			})
			m.mu.Lock()
			m.lastCheckAt = now
			m.mu.Unlock()
			return
		}
		fix = resolved
	} else {
		// 信号自带的坐标也算一次新鲜定位
		m.adapter.NoteFix(fix)
	}

	loc := &models.ParkingLocation{
		VehicleID:      vehicleID,
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		AccuracyM:      fix.AccuracyM,
		Source:         fix.Source,
		DisconnectTime: disconnectAt,
		ParkedAt:       now,
	}
	if err := s.parkingRepo.Create(ctx, loc); err != nil {
		s.logger.Error("Failed to persist parking location",
			zap.Int64("vehicle_id", vehicleID),
			zap.Error(err))
		return
	}

	if machine, ok := s.stateManager.Get(vehicleID); ok {
		machine.UpdateState(func(st *state.SessionState) {
			st.Latitude = fix.Latitude
			st.Longitude = fix.Longitude
			st.Source = fix.Source
		})
		s.hub.BroadcastMonitorUpdate(machine.GetState())
	}

	m.mu.Lock()
	m.lastCheckAt = now
	m.checkComplete = true
	m.mu.Unlock()

	s.persistState(ctx, &models.MonitoringState{
		VehicleID:        vehicleID,
		Active:           true,
		Connection:       models.ConnectionDisconnected,
		LastDisconnectAt: &disconnectAt,
		LastCheckAt:      &now,
	})

	s.notifier.Notify(notify.Notification{
		VehicleID: vehicleID,
		Kind:      notify.KindParkingRecorded,
		Severity:  notify.SeveritySoft,
		Title:     "Parking location saved",
		Data: map[string]interface{}{
			"parking_location_id": loc.ID,
			"latitude":            loc.Latitude,
			"longitude":           loc.Longitude,
			"source":              loc.Source,
		},
	})

	// 规则查询失败只影响提醒，不影响已落库的停车记录
	rs, err := s.rules.Check(ctx, fix.Latitude, fix.Longitude)
	if err != nil {
		s.logger.Warn("Rules lookup failed, parking saved without restrictions",
			zap.Int64("vehicle_id", vehicleID),
			zap.Int64("parking_location_id", loc.ID),
			zap.Error(err))
		s.notifier.Notify(notify.Notification{
			VehicleID: vehicleID,
			Kind:      notify.KindParkingRules,
			Severity:  notify.SeverityDiagnostic,
			Title:     "Could not check parking restrictions",
		})
		return
	}

	if err := s.parkingRepo.SetAddress(ctx, loc.ID, rs.StreetSegment, rs.Address); err != nil {
		s.logger.Error("Failed to save parking address", zap.Error(err))
	}

	s.scheduleRestrictions(ctx, m, loc, rs, now)
}

// armReminderTimers 为每条限停提醒安排一个提前通知定时器
// 新停车周期覆盖上一轮的定时器
func (s *MonitorService) armReminderTimers(m *vehicleMonitor, restrictions []*models.ParkingRestriction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, timer := range m.reminderTimers {
		timer.Stop()
	}
	m.reminderTimers = m.reminderTimers[:0]

	for _, restriction := range restrictions {
		restriction := restriction
		delay := time.Until(restriction.StartsAt.Add(-s.cfg.ReminderLeadTime))
		if delay < 0 {
			delay = 0
		}
		m.reminderTimers = append(m.reminderTimers, time.AfterFunc(delay, func() {
			s.notifier.Notify(notify.Notification{
				VehicleID: restriction.VehicleID,
				Kind:      notify.KindRestrictionReminder,
				Severity:  notify.SeverityStrong,
				Title:     "Parking restriction starting soon",
				Body:      fmt.Sprintf("A %s restriction starts at %s. Move your vehicle.", restriction.Kind, restriction.StartsAt.Format("15:04")),
				Data: map[string]interface{}{
					"parking_location_id": restriction.ParkingLocationID,
					"kind":                restriction.Kind,
					"starts_at":           restriction.StartsAt,
				},
			})
		}))
	}
}

// stopReminderTimers 停掉所有未触发的限停提醒定时器
func (s *MonitorService) stopReminderTimers(m *vehicleMonitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, timer := range m.reminderTimers {
		timer.Stop()
	}
	m.reminderTimers = m.reminderTimers[:0]
}

// backupCheckLoop 周期性兜底检查
// 实时信号可能漏报或定位失败，定期补检未完成的停车周期
func (s *MonitorService) backupCheckLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.BackupCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runBackupChecks()
		}
	}
}

// runBackupChecks 扫描所有监控中的车辆，补检满足条件的停车周期
func (s *MonitorService) runBackupChecks() {
	s.mu.RLock()
	monitors := make([]*vehicleMonitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		monitors = append(monitors, m)
	}
	s.mu.RUnlock()

	now := time.Now()
	for _, m := range monitors {
		machine, ok := s.stateManager.Get(m.vehicleID)
		if !ok || machine.CurrentState() != state.StateParked {
			continue
		}

		m.mu.Lock()
		eligible := s.backupEligible(m, now)
		disconnectAt := m.lastDisconnectAt
		m.mu.Unlock()

		if !eligible {
			continue
		}

		s.logger.Info("Running backup parking check", zap.Int64("vehicle_id", m.vehicleID))
		s.wg.Add(1)
		go func(m *vehicleMonitor, disconnectAt time.Time) {
			defer s.wg.Done()
			s.performParkingCheck(m.vehicleID, m, nil, disconnectAt)
		}(m, disconnectAt)
	}
}

// backupEligible 判断是否需要兜底补检（调用方持有 m.mu）
// 三个闸门：检查未完成、停留时间够长、距上次检查够久
func (s *MonitorService) backupEligible(m *vehicleMonitor, now time.Time) bool {
	if m.checkComplete {
		return false
	}
	if m.lastDisconnectAt.IsZero() || now.Sub(m.lastDisconnectAt) < s.cfg.MinDwellTime {
		return false
	}
	if !m.lastCheckAt.IsZero() && now.Sub(m.lastCheckAt) < s.cfg.MinCheckInterval {
		return false
	}
	return true
}

// scheduleRestrictions 计算并落库未来的限停提醒，按提前量安排通知定时器
func (s *MonitorService) scheduleRestrictions(ctx context.Context, m *vehicleMonitor, loc *models.ParkingLocation, rs *models.RuleSet, now time.Time) {
	restrictions := ComputeRestrictions(s.cfg, loc, rs, now)
	if len(restrictions) == 0 {
		s.logger.Debug("No upcoming restrictions at parking location",
			zap.Int64("parking_location_id", loc.ID))
		return
	}

	if err := s.restRepo.CreateBatch(ctx, restrictions); err != nil {
		s.logger.Error("Failed to persist restrictions",
			zap.Int64("parking_location_id", loc.ID),
			zap.Error(err))
		return
	}

	s.armReminderTimers(m, restrictions)

	upcoming := make([]map[string]interface{}, 0, len(restrictions))
	for _, r := range restrictions {
		upcoming = append(upcoming, map[string]interface{}{
			"kind":      r.Kind,
			"starts_at": r.StartsAt,
		})
	}

	s.notifier.Notify(notify.Notification{
		VehicleID: loc.VehicleID,
		Kind:      notify.KindRestrictionReminder,
		Severity:  notify.SeveritySoft,
		Title:     "Upcoming parking restrictions",
		Data: map[string]interface{}{
			"parking_location_id": loc.ID,
			"address":             rs.Address,
			"restrictions":        upcoming,
		},
	})
}

// onStateChange 状态机转换回调，广播给前端
// 回调在 Trigger 持有状态机锁时执行，读取状态必须放到锁外
func (s *MonitorService) onStateChange(vehicleID int64, from, to string) {
	s.logger.Info("Session state changed",
		zap.Int64("vehicle_id", vehicleID),
		zap.String("from", from),
		zap.String("to", to))

	go func() {
		if machine, ok := s.stateManager.Get(vehicleID); ok {
			s.hub.BroadcastMonitorUpdate(machine.GetState())
		}
	}()
}

// GetAllStates 获取所有会话状态（WebSocket 初始数据用）
func (s *MonitorService) GetAllStates() map[int64]*state.SessionState {
	return s.stateManager.GetAllStates()
}

func (s *MonitorService) monitor(vehicleID int64) (*vehicleMonitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.monitors[vehicleID]
	return m, ok
}

// stopped Stop 之后为真；定时器回调不在 WaitGroup 内，靠它拦住晚到的触发
func (s *MonitorService) stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// persistState 持久化监控状态，失败只记日志
func (s *MonitorService) persistState(ctx context.Context, ms *models.MonitoringState) {
	if err := s.stateRepo.Upsert(ctx, ms); err != nil {
		s.logger.Error("Failed to persist monitoring state",
			zap.Int64("vehicle_id", ms.VehicleID),
			zap.Error(err))
	}
}
