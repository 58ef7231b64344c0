package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/Livecall/internal/core"
)

type stubConn struct {
	sent int
	err  error
}

func (c *stubConn) TrySend(core.Frame) error {
	if c.err != nil {
		return c.err
	}
	c.sent++
	return nil
}

func (c *stubConn) Close() {}

func TestRegistryPublishReportsSlowConnections(t *testing.T) {
	r := NewRegistry()
	ok, slow := &stubConn{}, &stubConn{err: errors.New("full")}
	r.Bind("a", core.NewFeedSubscriber("fan", ok), nil)
	r.Bind("b", core.NewFeedSubscriber("fan", slow), nil)
	assert.Equal(t, 2, r.Count("fan"))

	res := r.Publish("fan", core.Frame(`{}`))
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, []core.ConnID{"b"}, res.Dropped)
	assert.Equal(t, 1, ok.sent)

	assert.Zero(t, r.Publish("nobody", core.Frame(`{}`)).Delivered)
}

func TestRegistryUnbindAndCancel(t *testing.T) {
	r := NewRegistry()
	canceled := 0
	r.Bind("a", core.NewFeedSubscriber("fan", &stubConn{}), func() { canceled++ })

	assert.True(t, r.Cancel("a"))
	assert.Equal(t, 1, canceled)

	r.Unbind("a")
	r.Unbind("a")
	assert.Zero(t, r.Count("fan"))
	assert.False(t, r.Cancel("a"))
	_, found := r.Subscriber("a")
	assert.False(t, found)
}

func TestCreateLimiterIsPerCreator(t *testing.T) {
	l := NewCreateLimiter(0.001, 2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))

	unlimited := NewCreateLimiter(0, 0)
	for range 100 {
		assert.True(t, unlimited.Allow("a"))
	}
}

func TestSimplePolicyDropsSubscriber(t *testing.T) {
	assert.Equal(t, DropSubscriber, SimplePolicy{}.OnBackPressure(core.NewFeedSubscriber("fan", &stubConn{})))
}
