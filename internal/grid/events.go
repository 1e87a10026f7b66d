package grid

import (
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

// Event is published on the mutation's bus and drained before commit.
type Event interface {
	eventName() string
}

type origin string

const (
	originDirect  origin = "direct"
	originSystem  origin = "system"
	originFormula origin = "formula"
	originMirror  origin = "mirror"
	originRollup  origin = "rollup"
)

type CellChanged struct {
	Column store.Column
	Key    store.CellKey
	Old    value.Value
	New    value.Value
	Origin origin
}

type ItemDeleted struct {
	BoardID int64
	ItemID  int64
}

type ColumnDeleted struct {
	Column store.Column
}

type BoardDeleted struct {
	BoardID int64
}

// SubItemsChanged fires when a parent gains or loses a sub-item.
type SubItemsChanged struct {
	BoardID      int64
	ParentItemID int64
}

func (CellChanged) eventName() string     { return "cell_changed" }
func (ItemDeleted) eventName() string     { return "item_deleted" }
func (ColumnDeleted) eventName() string   { return "column_deleted" }
func (BoardDeleted) eventName() string    { return "board_deleted" }
func (SubItemsChanged) eventName() string { return "subitems_changed" }

func (m *mutation) emit(ev Event) {
	m.queue = append(m.queue, ev)
}

// drain delivers queued events FIFO to the formula, mirror and rollup
// subscribers, in that order. Subscribers may queue more events.
func (m *mutation) drain() error {
	handlers := []func(Event) error{m.onFormulaEvent, m.onMirrorEvent, m.onRollupEvent}
	for len(m.queue) > 0 {
		if err := m.ctx.Err(); err != nil {
			return err
		}
		ev := m.queue[0]
		m.queue = m.queue[1:]
		cascadeEvents.WithLabelValues(ev.eventName()).Inc()
		for _, h := range handlers {
			if err := h(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
