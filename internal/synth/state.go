package synth

import (
	"sync"

	"github.com/iabetor/gcptts/internal/logger"
)

// State 是一次合成执行所处的阶段。
type State int

const (
	StateIdle State = iota
	StateSynthesizing
	StateMeasuringDuration
	StatePlaying
	StateWaitingForPlaybackEnd
	StateFireAndForget
	StateDone
	StateFailed
)

var stateNames = [...]string{
	"Idle",
	"Synthesizing",
	"MeasuringDuration",
	"Playing",
	"WaitingForPlaybackEnd",
	"FireAndForget",
	"Done",
	"Failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Terminal 报告是否为终止状态。
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// StateMachine 记录单次执行的状态，每次执行各自创建。
type StateMachine struct {
	mu       sync.Mutex
	current  State
	onChange func(from, to State)
}

// NewStateMachine 创建初始状态为 Idle 的状态机。
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateIdle}
}

// SetOnChange 注册状态变化回调。
func (sm *StateMachine) SetOnChange(fn func(from, to State)) {
	sm.mu.Lock()
	sm.onChange = fn
	sm.mu.Unlock()
}

// Current 返回当前状态。
func (sm *StateMachine) Current() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// Transition 切换状态，只接受以下转换：
//
//	Idle                  → Synthesizing
//	Synthesizing          → MeasuringDuration | Failed
//	MeasuringDuration     → Playing
//	Playing               → WaitingForPlaybackEnd | FireAndForget | Failed
//	WaitingForPlaybackEnd → Done
//	FireAndForget         → Done
func (sm *StateMachine) Transition(to State) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !validTransition(sm.current, to) {
		logger.Warnf("[synth] 非法转换 %s → %s", sm.current, to)
		return false
	}
	from := sm.current
	sm.current = to

	if sm.onChange != nil {
		sm.onChange(from, to)
	}
	return true
}

func validTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateSynthesizing
	case StateSynthesizing:
		return to == StateMeasuringDuration || to == StateFailed
	case StateMeasuringDuration:
		return to == StatePlaying
	case StatePlaying:
		return to == StateWaitingForPlaybackEnd || to == StateFireAndForget || to == StateFailed
	case StateWaitingForPlaybackEnd, StateFireAndForget:
		return to == StateDone
	default:
		return false
	}
}
