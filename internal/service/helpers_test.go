package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RandyVollrath/curbwatch/internal/config"
	"github.com/RandyVollrath/curbwatch/internal/models"
	"github.com/RandyVollrath/curbwatch/internal/notify"
)

// testConfig 用短定时器压缩测试时间
func testConfig() *config.Config {
	return &config.Config{
		CachedMaxAccuracyM:   50,
		CachedFreshness:      2 * time.Minute,
		HighAccuracyTimeout:  20 * time.Millisecond,
		BackgroundGPSTimeout: 30 * time.Millisecond,
		RelaxedAccuracyM:     250,
		RelaxedRetryCount:    1,

		BackupCheckInterval: time.Hour,
		MinDwellTime:        2 * time.Minute,
		MinCheckInterval:    10 * time.Minute,

		ConfirmationDelay:         20 * time.Millisecond,
		ConfirmationRetryDelay:    10 * time.Millisecond,
		ConfirmationMaxRetries:    3,
		DepartureConclusiveMeters: 100,

		StreetCleaningHour: 9,
		WinterBanStartHour: 3,
		WinterBanEndHour:   7,
		PermitZoneHour:     6,
		ReminderLeadTime:   time.Hour,

		PreferMotionSignal: true,
	}
}

var errNotFound = errors.New("not found")

type fakeStateStore struct {
	mu     sync.Mutex
	states map[int64]*models.MonitoringState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[int64]*models.MonitoringState)}
}

func (s *fakeStateStore) Get(_ context.Context, vehicleID int64) (*models.MonitoringState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.states[vehicleID]
	if !ok {
		return nil, errNotFound
	}
	cp := *ms
	return &cp, nil
}

func (s *fakeStateStore) Upsert(_ context.Context, ms *models.MonitoringState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ms
	cp.UpdatedAt = time.Now()
	s.states[ms.VehicleID] = &cp
	return nil
}

type fakeParkingStore struct {
	mu        sync.Mutex
	nextID    int64
	locations map[int64]*models.ParkingLocation
	closeErr  error // 非 nil 时 CloseActive 直接失败
}

func newFakeParkingStore() *fakeParkingStore {
	return &fakeParkingStore{locations: make(map[int64]*models.ParkingLocation)}
}

func (s *fakeParkingStore) Create(_ context.Context, loc *models.ParkingLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 断开时间幂等键
	for _, existing := range s.locations {
		if existing.VehicleID == loc.VehicleID && existing.DisconnectTime.Equal(loc.DisconnectTime) {
			*loc = *existing
			return nil
		}
	}
	s.nextID++
	loc.ID = s.nextID
	cp := *loc
	s.locations[loc.ID] = &cp
	return nil
}

func (s *fakeParkingStore) SetAddress(_ context.Context, id int64, streetSegment, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[id]
	if !ok {
		return errNotFound
	}
	loc.StreetSegment = &streetSegment
	loc.Address = &address
	return nil
}

func (s *fakeParkingStore) GetActive(_ context.Context, vehicleID int64) (*models.ParkingLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc := s.activeLocked(vehicleID); loc != nil {
		cp := *loc
		return &cp, nil
	}
	return nil, errNotFound
}

func (s *fakeParkingStore) CloseActive(_ context.Context, vehicleID int64, departedAt time.Time) (*models.ParkingLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil {
		return nil, s.closeErr
	}
	loc := s.activeLocked(vehicleID)
	if loc == nil {
		return nil, errNotFound
	}
	loc.DepartedAt = &departedAt
	cp := *loc
	return &cp, nil
}

func (s *fakeParkingStore) SaveDepartureEvidence(_ context.Context, id int64, distanceM float64, conclusive bool, confirmedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[id]
	if !ok {
		return errNotFound
	}
	loc.DepartureDistanceM = &distanceM
	loc.DepartureConclusive = &conclusive
	loc.DepartureConfirmedAt = &confirmedAt
	return nil
}

func (s *fakeParkingStore) activeLocked(vehicleID int64) *models.ParkingLocation {
	var latest *models.ParkingLocation
	for _, loc := range s.locations {
		if loc.VehicleID != vehicleID || loc.DepartedAt != nil {
			continue
		}
		if latest == nil || loc.ParkedAt.After(latest.ParkedAt) {
			latest = loc
		}
	}
	return latest
}

func (s *fakeParkingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locations)
}

func (s *fakeParkingStore) get(id int64) *models.ParkingLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[id]
	if !ok {
		return nil
	}
	cp := *loc
	return &cp
}

func (s *fakeParkingStore) first() *models.ParkingLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, loc := range s.locations {
		cp := *loc
		return &cp
	}
	return nil
}

type fakeConfirmationStore struct {
	mu          sync.Mutex
	nextID      int64
	pending     map[int64]*models.PendingConfirmation
	retryCalls  int
	deleteCalls int
}

func newFakeConfirmationStore() *fakeConfirmationStore {
	return &fakeConfirmationStore{pending: make(map[int64]*models.PendingConfirmation)}
}

func (s *fakeConfirmationStore) Replace(_ context.Context, conf *models.PendingConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	conf.ID = s.nextID
	conf.CreatedAt = time.Now()
	cp := *conf
	s.pending[conf.VehicleID] = &cp
	return nil
}

func (s *fakeConfirmationStore) Get(_ context.Context, vehicleID int64) (*models.PendingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conf, ok := s.pending[vehicleID]
	if !ok {
		return nil, errNotFound
	}
	cp := *conf
	return &cp, nil
}

func (s *fakeConfirmationStore) UpdateRetry(_ context.Context, id int64, retryCount int, scheduledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCalls++
	for _, conf := range s.pending {
		if conf.ID == id {
			conf.RetryCount = retryCount
			conf.ScheduledAt = scheduledAt
			return nil
		}
	}
	return errNotFound
}

func (s *fakeConfirmationStore) Delete(_ context.Context, vehicleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	delete(s.pending, vehicleID)
	return nil
}

func (s *fakeConfirmationStore) has(vehicleID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[vehicleID]
	return ok
}

func (s *fakeConfirmationStore) retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCalls
}

type fakeRestrictionStore struct {
	mu        sync.Mutex
	created   []*models.ParkingRestriction
	cancelled map[int64]int
}

func newFakeRestrictionStore() *fakeRestrictionStore {
	return &fakeRestrictionStore{cancelled: make(map[int64]int)}
}

func (s *fakeRestrictionStore) CreateBatch(_ context.Context, restrictions []*models.ParkingRestriction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, restrictions...)
	return nil
}

func (s *fakeRestrictionStore) CancelForLocation(_ context.Context, parkingLocationID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.created {
		if r.ParkingLocationID == parkingLocationID && !r.Cancelled {
			r.Cancelled = true
			n++
		}
	}
	s.cancelled[parkingLocationID]++
	return n, nil
}

func (s *fakeRestrictionStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

func (s *fakeRestrictionStore) cancelledFor(parkingLocationID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[parkingLocationID]
}

type fakeRules struct {
	mu    sync.Mutex
	rs    *models.RuleSet
	err   error
	calls int
}

func (r *fakeRules) Check(_ context.Context, lat, lng float64) (*models.RuleSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.rs != nil {
		return r.rs, nil
	}
	return &models.RuleSet{Address: "test address"}, nil
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	updates int
	pushes  int
}

func (b *fakeBroadcaster) BroadcastMonitorUpdate(interface{}) {
	b.mu.Lock()
	b.updates++
	b.mu.Unlock()
}

func (b *fakeBroadcaster) PushLocationRequest(int64, float64) {
	b.mu.Lock()
	b.pushes++
	b.mu.Unlock()
}

type fakeNotifier struct {
	mu            sync.Mutex
	notifications []notify.Notification
}

func (n *fakeNotifier) Notify(notification notify.Notification) {
	n.mu.Lock()
	n.notifications = append(n.notifications, notification)
	n.mu.Unlock()
}

func (n *fakeNotifier) byKind(kind string) []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notification
	for _, notification := range n.notifications {
		if notification.Kind == kind {
			out = append(out, notification)
		}
	}
	return out
}

// testFixture 组装好的被测服务和全部依赖
type testFixture struct {
	svc      *MonitorService
	states   *fakeStateStore
	parkings *fakeParkingStore
	confirms *fakeConfirmationStore
	rests    *fakeRestrictionStore
	rules    *fakeRules
	hub      *fakeBroadcaster
	notifier *fakeNotifier
}

func newTestService(cfg *config.Config) *testFixture {
	f := &testFixture{
		states:   newFakeStateStore(),
		parkings: newFakeParkingStore(),
		confirms: newFakeConfirmationStore(),
		rests:    newFakeRestrictionStore(),
		rules:    &fakeRules{},
		hub:      &fakeBroadcaster{},
		notifier: &fakeNotifier{},
	}
	f.svc = NewMonitorService(
		cfg,
		zap.NewNop(),
		f.states,
		f.parkings,
		f.confirms,
		f.rests,
		f.rules,
		f.hub,
		f.notifier,
	)
	return f
}

// restartService 用同一套存储重建服务，模拟进程重启
func restartService(f *testFixture, cfg *config.Config) *MonitorService {
	return NewMonitorService(
		cfg,
		zap.NewNop(),
		f.states,
		f.parkings,
		f.confirms,
		f.rests,
		f.rules,
		f.hub,
		f.notifier,
	)
}
