package service

import (
	"time"

	"github.com/RandyVollrath/curbwatch/internal/config"
	"github.com/RandyVollrath/curbwatch/internal/models"
)

// ComputeRestrictions 计算一个停车位置未来的限停提醒
// 纯函数：所有时间判断以传入的 now 为基准，便于测试
// 只生成严格在未来的提醒，已经开始的限停窗口不再提醒
func ComputeRestrictions(cfg *config.Config, loc *models.ParkingLocation, rs *models.RuleSet, now time.Time) []*models.ParkingRestriction {
	var restrictions []*models.ParkingRestriction

	if at, ok := nextStreetCleaning(cfg, rs, now); ok {
		restrictions = append(restrictions, &models.ParkingRestriction{
			VehicleID:         loc.VehicleID,
			ParkingLocationID: loc.ID,
			Kind:              models.RestrictionStreetCleaning,
			StartsAt:          at,
		})
	}

	if at, ok := nextWinterBan(cfg, rs, now); ok {
		restrictions = append(restrictions, &models.ParkingRestriction{
			VehicleID:         loc.VehicleID,
			ParkingLocationID: loc.ID,
			Kind:              models.RestrictionWinterBan,
			StartsAt:          at,
		})
	}

	if at, ok := nextPermitZone(cfg, rs, now); ok {
		restrictions = append(restrictions, &models.ParkingRestriction{
			VehicleID:         loc.VehicleID,
			ParkingLocationID: loc.ID,
			Kind:              models.RestrictionPermitZone,
			StartsAt:          at,
		})
	}

	return restrictions
}

// nextStreetCleaning 下一次街道清扫的开始时间
// 规则数据只给日期，开始小时来自配置；当天已过开始时间则不提醒
func nextStreetCleaning(cfg *config.Config, rs *models.RuleSet, now time.Time) (time.Time, bool) {
	if rs.StreetCleaning == nil || rs.StreetCleaning.NextDate == nil {
		return time.Time{}, false
	}

	d := rs.StreetCleaning.NextDate
	at := time.Date(d.Year(), d.Month(), d.Day(), cfg.StreetCleaningHour, 0, 0, 0, now.Location())
	if !at.After(now) {
		return time.Time{}, false
	}
	return at, true
}

// nextWinterBan 下一次冬季夜间禁停窗口的开始时间
// 禁停街段的历史记录也算：执法是按街段的，不看当天是否下雪
func nextWinterBan(cfg *config.Config, rs *models.RuleSet, now time.Time) (time.Time, bool) {
	if rs.WinterBan == nil || (!rs.WinterBan.Active && !rs.WinterBan.Historical) {
		return time.Time{}, false
	}

	start := time.Date(now.Year(), now.Month(), now.Day(), cfg.WinterBanStartHour, 0, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), cfg.WinterBanEndHour, 0, 0, 0, now.Location())

	switch {
	case now.Before(start):
		// 今晚窗口还没开始
		return start, true
	case now.Before(end):
		// 已在窗口内，提醒为时已晚
		return time.Time{}, false
	default:
		// 今天窗口已结束，提醒明天的
		return start.AddDate(0, 0, 1), true
	}
}

// nextPermitZone 下一次许可区执法开始时间
// 执法只在工作日，周末停车跳到周一早上
func nextPermitZone(cfg *config.Config, rs *models.RuleSet, now time.Time) (time.Time, bool) {
	if rs.PermitZone == nil || !rs.PermitZone.Enforced {
		return time.Time{}, false
	}

	at := time.Date(now.Year(), now.Month(), now.Day(), cfg.PermitZoneHour, 0, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	for at.Weekday() == time.Saturday || at.Weekday() == time.Sunday {
		at = at.AddDate(0, 0, 1)
	}
	return at, true
}
