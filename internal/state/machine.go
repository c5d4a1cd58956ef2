package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 会话状态常量
const (
	StateDriving = "driving"
	StateParked  = "parked"
)

// 事件常量
const (
	EventStopDriving  = "stop_driving"
	EventStartDriving = "start_driving"
)

// SessionState 监控会话状态
type SessionState struct {
	VehicleID    int64     `json:"vehicle_id"`
	CurrentState string    `json:"state"`
	Since        time.Time `json:"since"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Source       string    `json:"source,omitempty"`
}

// Machine 单辆车的停车状态机
type Machine struct {
	mu            sync.RWMutex
	vehicleID     int64
	fsm           *fsm.FSM
	state         *SessionState
	onStateChange func(vehicleID int64, from, to string)
}

// NewMachine 创建状态机
// 初始状态为 driving：监控启动时假定用户在车上
func NewMachine(vehicleID int64, initialState string, onStateChange func(vehicleID int64, from, to string)) *Machine {
	if initialState == "" {
		initialState = StateDriving
	}

	m := &Machine{
		vehicleID:     vehicleID,
		onStateChange: onStateChange,
		state: &SessionState{
			VehicleID:    vehicleID,
			CurrentState: initialState,
			Since:        time.Now(),
		},
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			{Name: EventStopDriving, Src: []string{StateDriving}, Dst: StateParked},
			{Name: EventStartDriving, Src: []string{StateParked}, Dst: StateDriving},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.vehicleID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// GetState 获取完整状态
func (m *Machine) GetState() *SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// 返回副本
	stateCopy := *m.state
	stateCopy.CurrentState = m.fsm.Current()
	return &stateCopy
}

// UpdateState 更新状态数据
func (m *Machine) UpdateState(update func(s *SessionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update(m.state)
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.state.CurrentState = m.fsm.Current()
	m.state.Since = time.Now()
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// Manager 状态机管理器
type Manager struct {
	mu       sync.RWMutex
	machines map[int64]*Machine
	onChange func(vehicleID int64, from, to string)
}

// NewManager 创建管理器
func NewManager(onChange func(vehicleID int64, from, to string)) *Manager {
	return &Manager{
		machines: make(map[int64]*Machine),
		onChange: onChange,
	}
}

// GetOrCreate 获取或创建状态机
func (m *Manager) GetOrCreate(vehicleID int64, initialState string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine, ok := m.machines[vehicleID]; ok {
		return machine
	}

	machine := NewMachine(vehicleID, initialState, m.onChange)
	m.machines[vehicleID] = machine
	return machine
}

// Get 获取状态机
func (m *Manager) Get(vehicleID int64) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[vehicleID]
	return machine, ok
}

// Remove 移除状态机（停止监控时调用）
func (m *Manager) Remove(vehicleID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.machines, vehicleID)
}

// GetAllStates 获取所有会话状态
func (m *Manager) GetAllStates() map[int64]*SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[int64]*SessionState)
	for vehicleID, machine := range m.machines {
		states[vehicleID] = machine.GetState()
	}
	return states
}
