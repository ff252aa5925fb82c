package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()

	var got []Type
	var all []Type
	unsub := b.Subscribe(MotionStart, func(e Event) { got = append(got, e.Type) })
	b.Subscribe(All, func(e Event) { all = append(all, e.Type) })

	b.Publish(Event{Type: MotionStart, Group: "idle"})
	b.Publish(Event{Type: MotionFinish})
	unsub()
	unsub()
	b.Publish(Event{Type: MotionStart})

	assert.Equal(t, []Type{MotionStart}, got)
	assert.Equal(t, []Type{MotionStart, MotionFinish, MotionStart}, all)
}

func TestPublishStampsEvent(t *testing.T) {
	b := NewBus()
	var e Event
	b.Subscribe(ExpressionSet, func(ev Event) { e = ev })
	b.Publish(Event{Type: ExpressionSet, Index: 2})

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Time.IsZero())
	assert.Equal(t, 2, e.Index)
}

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(New(ModelDestroy))
	b.Subscribe(All, func(Event) {})()
}
