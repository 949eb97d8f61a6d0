package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := New[string]()
	ch := bus.Subscribe(1)
	bus.Publish("hello")
	assert.Equal(t, "hello", <-ch)
	bus.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBusDropsOnFullSubscriber(t *testing.T) {
	bus := New[int]()
	ch := bus.Subscribe(1)
	bus.Publish(1)
	bus.Publish(2)
	assert.Equal(t, 1, <-ch)
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestBusClose(t *testing.T) {
	bus := New[int]()
	ch1 := bus.Subscribe(0)
	ch2 := bus.Subscribe(0)
	bus.Close()
	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)

	late := bus.Subscribe(0)
	_, ok = <-late
	assert.False(t, ok)
	assert.NotPanics(t, func() { bus.Unsubscribe(ch1) })
	bus.Publish(3)
}
