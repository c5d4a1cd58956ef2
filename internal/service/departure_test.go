package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RandyVollrath/curbwatch/internal/location"
	"github.com/RandyVollrath/curbwatch/internal/models"
	"github.com/RandyVollrath/curbwatch/internal/notify"
	"github.com/RandyVollrath/curbwatch/internal/signal"
)

// parkVehicle 把车辆送进停车状态并等停车记录落库
func parkVehicle(t *testing.T, f *testFixture) int64 {
	t.Helper()
	startMonitored(t, f)
	sendStop(f, signalFix())
	require.Eventually(t, func() bool {
		return f.parkings.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	return f.parkings.first().ID
}

func TestDepartureConfirmedConclusive(t *testing.T) {
	f := newTestService(testConfig())
	locID := parkVehicle(t, f)

	// 起步后设备上报了远离停车点的新位置（约 1.1km）
	require.NoError(t, f.svc.DeliverFix(testVehicle, &location.Fix{
		Latitude:   41.9100,
		Longitude:  -87.6800,
		AccuracyM:  15,
		RecordedAt: time.Now(),
	}, false))

	sendStart(f)

	require.Eventually(t, func() bool {
		loc := f.parkings.get(locID)
		return loc != nil && loc.DepartureConfirmedAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	loc := f.parkings.get(locID)
	require.NotNil(t, loc.DepartedAt)
	require.NotNil(t, loc.DepartureConclusive)
	assert.True(t, *loc.DepartureConclusive)
	require.NotNil(t, loc.DepartureDistanceM)
	assert.Greater(t, *loc.DepartureDistanceM, 1000.0)

	// 确认完成后 pending 清除，强通知发出
	assert.False(t, f.confirms.has(testVehicle))
	assert.Len(t, f.notifier.byKind(notify.KindDepartureConfirmed), 1)
	assert.Empty(t, f.notifier.byKind(notify.KindDepartureUnverified))
}

func TestDepartureUnverifiedWhenTooClose(t *testing.T) {
	f := newTestService(testConfig())
	locID := parkVehicle(t, f)

	// 新位置离停车点只有 ~33m，低于 100m 阈值
	require.NoError(t, f.svc.DeliverFix(testVehicle, &location.Fix{
		Latitude:   41.9003,
		Longitude:  -87.6800,
		AccuracyM:  15,
		RecordedAt: time.Now(),
	}, false))

	sendStart(f)

	require.Eventually(t, func() bool {
		loc := f.parkings.get(locID)
		return loc != nil && loc.DepartureConfirmedAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	loc := f.parkings.get(locID)
	require.NotNil(t, loc.DepartureConclusive)
	assert.False(t, *loc.DepartureConclusive)

	assert.Len(t, f.notifier.byKind(notify.KindDepartureUnverified), 1)
	assert.Empty(t, f.notifier.byKind(notify.KindDepartureConfirmed))
}

func TestDepartureCancelsRestrictions(t *testing.T) {
	f := newTestService(testConfig())
	locID := parkVehicle(t, f)

	require.NoError(t, f.svc.DeliverFix(testVehicle, &location.Fix{
		Latitude: 41.91, Longitude: -87.68, AccuracyM: 15, RecordedAt: time.Now(),
	}, false))

	sendStart(f)

	require.Eventually(t, func() bool {
		return f.rests.cancelledFor(locID) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConfirmationExhaustedAfterMaxRetries(t *testing.T) {
	cfg := testConfig()
	f := newTestService(cfg)

	// 连接信号源、无缓存定位：每次确认尝试都会耗尽降级链
	require.NoError(t, f.svc.StartMonitoring(context.Background(), testVehicle,
		signal.Capability{PairedAccessory: true}))
	t.Cleanup(f.svc.Stop)

	m, ok := f.svc.monitor(testVehicle)
	require.True(t, ok)

	pending := &models.PendingConfirmation{
		VehicleID:         testVehicle,
		ParkingLocationID: 9,
		Latitude:          41.9,
		Longitude:         -87.68,
	}
	require.NoError(t, f.confirms.Replace(context.Background(), pending))

	// 第一次尝试失败并重排，后续尝试由定时器驱动直至耗尽
	require.Error(t, f.svc.attemptConfirmation(context.Background(), testVehicle, m, pending))

	require.Eventually(t, func() bool {
		return !f.confirms.has(testVehicle)
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(f.notifier.byKind(notify.KindDepartureUnknown)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// 3 次尝试 = 初始 1 次 + 重排 2 次
	assert.Equal(t, cfg.ConfirmationMaxRetries-1, f.confirms.retries())

	// 离开证据始终未写入
	assert.Nil(t, f.parkings.get(9))
}

func TestNewParkingCycleCancelsPendingConfirmation(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmationDelay = time.Hour // 定时器不应触发，专测取消路径
	f := newTestService(cfg)
	parkVehicle(t, f)

	require.NoError(t, f.svc.DeliverFix(testVehicle, &location.Fix{
		Latitude: 41.91, Longitude: -87.68, AccuracyM: 15, RecordedAt: time.Now(),
	}, false))

	sendStart(f)
	require.Eventually(t, func() bool {
		return f.confirms.has(testVehicle)
	}, 2*time.Second, 10*time.Millisecond)

	// 确认定时器触发前再次停车：旧确认作废，新停车记录落库
	sendStop(f, &location.Fix{
		Latitude:   41.9100,
		Longitude:  -87.6800,
		AccuracyM:  10,
		RecordedAt: time.Now(),
	})

	require.Eventually(t, func() bool {
		return f.parkings.count() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, f.confirms.has(testVehicle))
}

func TestReminderTimersStoppedWhenCloseFails(t *testing.T) {
	cfg := testConfig()
	cfg.ReminderLeadTime = 10 * time.Millisecond
	f := newTestService(cfg)
	parkVehicle(t, f)

	m, ok := f.svc.monitor(testVehicle)
	require.True(t, ok)
	f.svc.armReminderTimers(m, []*models.ParkingRestriction{{
		VehicleID:         testVehicle,
		ParkingLocationID: 1,
		Kind:              models.RestrictionStreetCleaning,
		StartsAt:          time.Now().Add(300 * time.Millisecond),
	}})

	// 关闭停车记录暂时失败，旧位置的提醒也必须停
	f.parkings.mu.Lock()
	f.parkings.closeErr = assert.AnError
	f.parkings.mu.Unlock()

	sendStart(f)

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.reminderTimers) == 0
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, strongReminders(f))
}

func TestNoConfirmationAfterServiceStop(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmationDelay = time.Hour
	f := newTestService(cfg)
	locID := parkVehicle(t, f)

	require.NoError(t, f.svc.DeliverFix(testVehicle, &location.Fix{
		Latitude: 41.91, Longitude: -87.68, AccuracyM: 15, RecordedAt: time.Now(),
	}, false))

	sendStart(f)
	require.Eventually(t, func() bool {
		return f.confirms.has(testVehicle)
	}, 2*time.Second, 10*time.Millisecond)

	m, ok := f.svc.monitor(testVehicle)
	require.True(t, ok)

	require.NoError(t, f.svc.Start(context.Background()))
	f.svc.Stop()

	// Stop 之后晚到的定时器触发不再执行确认
	f.svc.runConfirmation(testVehicle, m)

	assert.True(t, f.confirms.has(testVehicle))
	assert.Zero(t, f.confirms.retries())
	assert.Nil(t, f.parkings.get(locID).DepartureConfirmedAt)

	// 失败重排路径也不能再装新定时器
	f.svc.armConfirmationTimer(testVehicle, m, time.Millisecond)
	m.mu.Lock()
	assert.Nil(t, m.confirmTimer)
	m.mu.Unlock()
}

func TestManualRetryRequiresPending(t *testing.T) {
	f := newTestService(testConfig())
	startMonitored(t, f)

	err := f.svc.RetryConfirmation(context.Background(), testVehicle)
	assert.ErrorIs(t, err, ErrNoPendingConfirmation)

	err = f.svc.RetryConfirmation(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotMonitored)
}

func TestManualRetryResetsCountAndConfirms(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmationDelay = time.Hour // 只有手动重试会触发确认
	f := newTestService(cfg)
	locID := parkVehicle(t, f)

	require.NoError(t, f.svc.DeliverFix(testVehicle, &location.Fix{
		Latitude: 41.91, Longitude: -87.68, AccuracyM: 15, RecordedAt: time.Now(),
	}, false))

	sendStart(f)
	require.Eventually(t, func() bool {
		return f.confirms.has(testVehicle)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.svc.RetryConfirmation(context.Background(), testVehicle))

	require.Eventually(t, func() bool {
		loc := f.parkings.get(locID)
		return loc != nil && loc.DepartureConfirmedAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOnlyOnePendingConfirmationPerVehicle(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmationDelay = time.Hour
	f := newTestService(cfg)
	parkVehicle(t, f)

	require.NoError(t, f.svc.DeliverFix(testVehicle, &location.Fix{
		Latitude: 41.91, Longitude: -87.68, AccuracyM: 15, RecordedAt: time.Now(),
	}, false))

	sendStart(f)
	require.Eventually(t, func() bool {
		return f.confirms.has(testVehicle)
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, f.svc.HasPendingConfirmation(context.Background(), testVehicle))
}
