package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RandyVollrath/curbwatch/internal/location"
	"github.com/RandyVollrath/curbwatch/internal/models"
	"github.com/RandyVollrath/curbwatch/internal/notify"
)

// ErrConfirmationExhausted 离开确认重试耗尽
var ErrConfirmationExhausted = errors.New("departure confirmation retries exhausted")

// ErrNoPendingConfirmation 没有进行中的离开确认
var ErrNoPendingConfirmation = errors.New("no pending departure confirmation")

// beginDepartureConfirmation 起步后开启离开确认流程
// 关闭进行中的停车记录、作废旧位置的限停提醒，并安排延迟确认：
// 起步瞬间的定位不可靠，等车开出一段距离后再比对
func (s *MonitorService) beginDepartureConfirmation(ctx context.Context, vehicleID int64, m *vehicleMonitor) {
	now := time.Now()

	// 车辆已离开，旧位置的提醒不再发；关闭停车记录失败也要停
	s.stopReminderTimers(m)

	loc, err := s.parkingRepo.CloseActive(ctx, vehicleID, now)
	if err != nil {
		// 没有进行中的停车记录（比如定位失败没落库），无从确认
		s.logger.Debug("No active parking to confirm departure for",
			zap.Int64("vehicle_id", vehicleID),
			zap.Error(err))
		return
	}

	if cancelled, err := s.restRepo.CancelForLocation(ctx, loc.ID); err != nil {
		s.logger.Error("Failed to cancel restrictions",
			zap.Int64("parking_location_id", loc.ID),
			zap.Error(err))
	} else if cancelled > 0 {
		s.logger.Info("Cancelled restrictions for departed location",
			zap.Int64("parking_location_id", loc.ID),
			zap.Int64("cancelled", cancelled))
	}

	conf := &models.PendingConfirmation{
		VehicleID:         vehicleID,
		ParkingLocationID: loc.ID,
		Latitude:          loc.Latitude,
		Longitude:         loc.Longitude,
		RetryCount:        0,
		ScheduledAt:       now.Add(s.cfg.ConfirmationDelay),
	}
	if err := s.confirmRepo.Replace(ctx, conf); err != nil {
		s.logger.Error("Failed to persist pending confirmation",
			zap.Int64("vehicle_id", vehicleID),
			zap.Error(err))
		return
	}

	s.armConfirmationTimer(vehicleID, m, s.cfg.ConfirmationDelay)

	s.logger.Info("Departure confirmation scheduled",
		zap.Int64("vehicle_id", vehicleID),
		zap.Int64("parking_location_id", loc.ID),
		zap.Duration("delay", s.cfg.ConfirmationDelay))
}

// armConfirmationTimer 安排（或重排）确认定时器
// 同一辆车只有一个定时器；重新安排会先停掉旧的
func (s *MonitorService) armConfirmationTimer(vehicleID int64, m *vehicleMonitor, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.confirmTimer != nil {
		m.confirmTimer.Stop()
	}
	// Stop 清理定时器后，进行中的失败重排不能再装新的
	if s.stopped() {
		m.confirmTimer = nil
		return
	}
	m.confirmTimer = time.AfterFunc(delay, func() {
		s.runConfirmation(vehicleID, m)
	})
}

// runConfirmation 执行一次离开确认尝试
// 以持久化的 pending 记录为准：定时器和取消之间的竞态以记录是否存在裁决
func (s *MonitorService) runConfirmation(vehicleID int64, m *vehicleMonitor) {
	// 定时器触发和 Stop 之间的竞态：服务停了就不再确认
	if s.stopped() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pending, err := s.confirmRepo.Get(ctx, vehicleID)
	if err != nil {
		// 确认已被取消或完成，定时器晚到了
		s.logger.Debug("Confirmation timer fired with no pending record",
			zap.Int64("vehicle_id", vehicleID))
		return
	}

	if err := s.attemptConfirmation(ctx, vehicleID, m, pending); err != nil {
		if errors.Is(err, ErrConfirmationExhausted) {
			return
		}
		s.logger.Error("Departure confirmation attempt failed",
			zap.Int64("vehicle_id", vehicleID),
			zap.Int("retry_count", pending.RetryCount),
			zap.Error(err))
	}
}

// attemptConfirmation 单次确认尝试：解析当前定位并与停车点比对
// 失败时按有限次数重排重试；耗尽后返回 ErrConfirmationExhausted
func (s *MonitorService) attemptConfirmation(ctx context.Context, vehicleID int64, m *vehicleMonitor, pending *models.PendingConfirmation) error {
	fix, err := m.adapter.Acquire(ctx)
	if err != nil {
		return s.handleConfirmationFailure(ctx, vehicleID, m, pending, err)
	}

	now := time.Now()
	distance := location.DistanceMeters(pending.Latitude, pending.Longitude, fix.Latitude, fix.Longitude)
	conclusive := distance >= s.cfg.DepartureConclusiveMeters

	if err := s.parkingRepo.SaveDepartureEvidence(ctx, pending.ParkingLocationID, distance, conclusive, now); err != nil {
		return s.handleConfirmationFailure(ctx, vehicleID, m, pending, err)
	}

	if err := s.confirmRepo.Delete(ctx, vehicleID); err != nil {
		s.logger.Error("Failed to delete pending confirmation",
			zap.Int64("vehicle_id", vehicleID),
			zap.Error(err))
	}

	m.mu.Lock()
	m.confirmTimer = nil
	m.mu.Unlock()

	s.logger.Info("Departure confirmed",
		zap.Int64("vehicle_id", vehicleID),
		zap.Int64("parking_location_id", pending.ParkingLocationID),
		zap.Float64("distance_m", distance),
		zap.Bool("conclusive", conclusive))

	if conclusive {
		s.notifier.Notify(notify.Notification{
			VehicleID: vehicleID,
			Kind:      notify.KindDepartureConfirmed,
			Severity:  notify.SeverityStrong,
			Title:     "Departure confirmed",
			Body:      fmt.Sprintf("Vehicle moved %.0fm from its parking spot.", distance),
			Data: map[string]interface{}{
				"parking_location_id": pending.ParkingLocationID,
				"distance_m":          distance,
			},
		})
	} else {
		s.notifier.Notify(notify.Notification{
			VehicleID: vehicleID,
			Kind:      notify.KindDepartureUnverified,
			Severity:  notify.SeveritySoft,
			Title:     "Departure not verified",
			Body:      fmt.Sprintf("Current position is only %.0fm from the parking spot.", distance),
			Data: map[string]interface{}{
				"parking_location_id": pending.ParkingLocationID,
				"distance_m":          distance,
			},
		})
	}

	return nil
}

// handleConfirmationFailure 确认尝试失败：有限次重排，耗尽后放弃
func (s *MonitorService) handleConfirmationFailure(ctx context.Context, vehicleID int64, m *vehicleMonitor, pending *models.PendingConfirmation, cause error) error {
	retry := pending.RetryCount + 1

	if retry >= s.cfg.ConfirmationMaxRetries {
		if err := s.confirmRepo.Delete(ctx, vehicleID); err != nil {
			s.logger.Error("Failed to delete exhausted confirmation",
				zap.Int64("vehicle_id", vehicleID),
				zap.Error(err))
		}

		m.mu.Lock()
		m.confirmTimer = nil
		m.mu.Unlock()

		s.logger.Warn("Departure confirmation exhausted",
			zap.Int64("vehicle_id", vehicleID),
			zap.Int64("parking_location_id", pending.ParkingLocationID),
			zap.Int("attempts", retry),
			zap.Error(cause))

		s.notifier.Notify(notify.Notification{
			VehicleID: vehicleID,
			Kind:      notify.KindDepartureUnknown,
			Severity:  notify.SeveritySoft,
			Title:     "Could not confirm departure",
			Body:      "Location was unavailable. Tap to retry manually.",
			Data: map[string]interface{}{
				"parking_location_id": pending.ParkingLocationID,
			},
		})

		return ErrConfirmationExhausted
	}

	nextAt := time.Now().Add(s.cfg.ConfirmationRetryDelay)
	if err := s.confirmRepo.UpdateRetry(ctx, pending.ID, retry, nextAt); err != nil {
		s.logger.Error("Failed to update confirmation retry",
			zap.Int64("vehicle_id", vehicleID),
			zap.Error(err))
		return fmt.Errorf("update confirmation retry: %w", err)
	}

	s.armConfirmationTimer(vehicleID, m, s.cfg.ConfirmationRetryDelay)

	s.logger.Info("Departure confirmation rescheduled",
		zap.Int64("vehicle_id", vehicleID),
		zap.Int("retry_count", retry),
		zap.Time("next_attempt_at", nextAt),
		zap.Error(cause))

	return fmt.Errorf("confirmation attempt %d failed: %w", retry, cause)
}

// RetryConfirmation 用户手动触发确认重试
// 重置重试计数并立即执行一次尝试
func (s *MonitorService) RetryConfirmation(ctx context.Context, vehicleID int64) error {
	m, ok := s.monitor(vehicleID)
	if !ok {
		return ErrNotMonitored
	}

	pending, err := s.confirmRepo.Get(ctx, vehicleID)
	if err != nil {
		return ErrNoPendingConfirmation
	}

	m.mu.Lock()
	if m.confirmTimer != nil {
		m.confirmTimer.Stop()
		m.confirmTimer = nil
	}
	m.mu.Unlock()

	if pending.RetryCount != 0 {
		if err := s.confirmRepo.UpdateRetry(ctx, pending.ID, 0, time.Now()); err != nil {
			return fmt.Errorf("reset confirmation retry: %w", err)
		}
		pending.RetryCount = 0
	}

	s.logger.Info("Manual departure confirmation requested", zap.Int64("vehicle_id", vehicleID))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runConfirmation(vehicleID, m)
	}()
	return nil
}

// cancelConfirmation 取消进行中的离开确认（新停车周期会作废旧确认）
func (s *MonitorService) cancelConfirmation(ctx context.Context, vehicleID int64, m *vehicleMonitor) {
	m.mu.Lock()
	hadTimer := m.confirmTimer != nil
	if m.confirmTimer != nil {
		m.confirmTimer.Stop()
		m.confirmTimer = nil
	}
	m.mu.Unlock()

	if err := s.confirmRepo.Delete(ctx, vehicleID); err != nil {
		s.logger.Error("Failed to delete pending confirmation",
			zap.Int64("vehicle_id", vehicleID),
			zap.Error(err))
	}

	if hadTimer {
		s.logger.Info("Pending departure confirmation cancelled", zap.Int64("vehicle_id", vehicleID))
	}
}

// HasPendingConfirmation 查询是否有进行中的确认（状态接口用）
func (s *MonitorService) HasPendingConfirmation(ctx context.Context, vehicleID int64) bool {
	_, err := s.confirmRepo.Get(ctx, vehicleID)
	return err == nil
}
