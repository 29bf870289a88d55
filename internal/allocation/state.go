package allocation

import (
	"sync"

	"taskline/internal/domain"
)

// State owns the allocation cursor. All reads and writes go through its
// methods so the scheduler, status readers and round loop never share the
// struct directly.
type State struct {
	mu  sync.RWMutex
	s   domain.AllocationState
	gen uint64
}

func NewState() *State {
	return &State{s: domain.AllocationState{Cursor: 1}}
}

// Reset starts a fresh run at task 1.
func (st *State) Reset(totalTasks int, taskType string, winnersPerRound int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.gen++
	st.s = domain.AllocationState{
		Cursor:          1,
		TotalTasks:      totalTasks,
		WinnersPerRound: winnersPerRound,
		TaskType:        taskType,
		Running:         st.s.Running,
	}
}

// Advance moves the cursor forward by one task, never past total+1. It is a
// no-op when the run was reset after gen was read.
func (st *State) Advance(gen uint64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if gen != st.gen || st.s.Cursor > st.s.TotalTasks {
		return false
	}
	st.s.Cursor++
	return true
}

// Generation identifies the current run.
func (st *State) Generation() uint64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.gen
}

func (st *State) SetRunning(running bool) {
	st.mu.Lock()
	st.s.Running = running
	st.mu.Unlock()
}

func (st *State) Running() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Running
}

func (st *State) Cursor() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Cursor
}

func (st *State) Snapshot() domain.AllocationState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}
