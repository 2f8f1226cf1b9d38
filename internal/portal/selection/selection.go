// Package selection is the shared current-task/current-epitope slot.
// It decouples sibling views: list views write, detail views read.
// Writes are last-writer-wins and the two slots carry no joint
// ordering guarantee; readers must tolerate seeing them briefly out of
// sync.
package selection

import (
	"sync"

	"github.com/epibuilder/portal/internal/model"
)

type Channel struct {
	mu      sync.Mutex
	task    *model.Task
	epitope *model.Epitope

	taskSubs    []chan *model.Task
	epitopeSubs []chan *model.Epitope
}

func New() *Channel {
	return &Channel{}
}

// SetCurrentTask publishes the task slot. nil clears it.
func (c *Channel) SetCurrentTask(t *model.Task) {
	c.mu.Lock()
	c.task = t
	subs := c.taskSubs
	c.mu.Unlock()

	for _, ch := range subs {
		push(ch, t)
	}
}

// SetCurrentEpitope publishes the epitope slot. nil clears it.
func (c *Channel) SetCurrentEpitope(e *model.Epitope) {
	c.mu.Lock()
	c.epitope = e
	subs := c.epitopeSubs
	c.mu.Unlock()

	for _, ch := range subs {
		push(ch, e)
	}
}

// CurrentTask returns the task slot, or nil.
func (c *Channel) CurrentTask() *model.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task
}

// CurrentEpitope returns the epitope slot, or nil.
func (c *Channel) CurrentEpitope() *model.Epitope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epitope
}

// TaskChanges returns a channel that receives every subsequent task
// slot write. A slow reader only ever misses intermediate values, the
// latest write is always delivered.
func (c *Channel) TaskChanges() <-chan *model.Task {
	ch := make(chan *model.Task, 1)
	c.mu.Lock()
	c.taskSubs = append(c.taskSubs, ch)
	c.mu.Unlock()
	return ch
}

// EpitopeChanges returns a channel that receives every subsequent
// epitope slot write.
func (c *Channel) EpitopeChanges() <-chan *model.Epitope {
	ch := make(chan *model.Epitope, 1)
	c.mu.Lock()
	c.epitopeSubs = append(c.epitopeSubs, ch)
	c.mu.Unlock()
	return ch
}

// push delivers last-writer-wins: drop the stale pending value, never
// block the writer.
func push[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
