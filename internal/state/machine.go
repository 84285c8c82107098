package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 路径回放状态常量
const (
	StateIdle      = "idle"
	StateLoaded    = "loaded"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateAborted   = "aborted"
)

// 路径回放事件常量
const (
	EventLoad   = "load"
	EventStart  = "start"
	EventFinish = "finish"
	EventAbort  = "abort"
)

// PlaybackEvents 路径回放的状态转换表。
// 终止状态只能通过重新 load 回到 loaded，不会自动重新开始。
var PlaybackEvents = fsm.Events{
	{Name: EventLoad, Src: []string{StateIdle, StateLoaded, StateCompleted, StateAborted}, Dst: StateLoaded},
	{Name: EventStart, Src: []string{StateLoaded}, Dst: StateRunning},
	{Name: EventFinish, Src: []string{StateRunning}, Dst: StateCompleted},
	{Name: EventAbort, Src: []string{StateLoaded, StateRunning}, Dst: StateAborted},
}

// ErrInvalidTransition 当前状态不允许该事件
var ErrInvalidTransition = errors.New("invalid state transition")

// Transition 一次状态转换
type Transition struct {
	Event string    `json:"event"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	At    time.Time `json:"at"`
}

// Machine 基于 looplab/fsm 的状态机，并发安全
type Machine struct {
	mu            sync.RWMutex
	fsm           *fsm.FSM
	since         time.Time
	history       []Transition
	onStateChange func(t Transition)
}

// NewMachine 创建状态机。onStateChange 在状态实际改变后持锁调用，不能再调用 Machine 的方法
func NewMachine(initialState string, events fsm.Events, onStateChange func(t Transition)) *Machine {
	m := &Machine{
		onStateChange: onStateChange,
		since:         time.Now(),
	}

	m.fsm = fsm.NewFSM(
		initialState,
		events,
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if e.Src == e.Dst {
					return
				}
				t := Transition{Event: e.Event, From: e.Src, To: e.Dst, At: time.Now()}
				m.since = t.At
				m.history = append(m.history, t)
				if m.onStateChange != nil {
					m.onStateChange(t)
				}
			},
		},
	)

	return m
}

// NewPlaybackMachine 创建路径回放状态机，初始状态 idle
func NewPlaybackMachine(onStateChange func(t Transition)) *Machine {
	return NewMachine(StateIdle, PlaybackEvents, onStateChange)
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Is 当前是否处于指定状态
func (m *Machine) Is(state string) bool {
	return m.CurrentState() == state
}

// Since 进入当前状态的时间
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// History 已发生的状态转换
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transition(nil), m.history...)
}

// Trigger 触发事件。目标状态与当前状态相同视为成功。
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.fsm.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return fmt.Errorf("%w: event %s in state %s: %w", ErrInvalidTransition, event, m.fsm.Current(), err)
	}
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// IsTerminal 回放状态是否为终止状态
func IsTerminal(state string) bool {
	return state == StateCompleted || state == StateAborted
}
