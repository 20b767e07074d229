package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pass(d interface{}) (interface{}, error) { return d, nil }

func TestTrigger_NoHandlers(t *testing.T) {
	hc := NewHookCenter()
	out, err := hc.Trigger(context.Background(), "noop", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestTrigger_NilCenter(t *testing.T) {
	var hc *HookCenter
	out, err := hc.Trigger(context.Background(), OnRegionPage, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestTrigger_DataPassThrough(t *testing.T) {
	hc := NewHookCenter()
	hc.Register("ev", 0, "double", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		return data.(int) * 2, nil
	})
	hc.Register("ev", 1, "addTen", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		return data.(int) + 10, nil
	})
	out, err := hc.Trigger(context.Background(), "ev", 5)
	require.NoError(t, err)
	assert.Equal(t, 20, out)
}

func TestTrigger_PriorityOrder(t *testing.T) {
	hc := NewHookCenter()
	var order []string
	add := func(name string, prio int) {
		hc.Register("ev", prio, name, func(_ context.Context, _ string, d interface{}) (interface{}, error) {
			order = append(order, name)
			return pass(d)
		})
	}
	add("high", 10)
	add("low", 1)
	add("mid-a", 5)
	add("mid-b", 5)
	hc.Trigger(context.Background(), "ev", nil)
	assert.Equal(t, []string{"low", "mid-a", "mid-b", "high"}, order)
}

func TestTrigger_ErrInterrupt(t *testing.T) {
	hc := NewHookCenter()
	var secondCalled bool
	hc.Register(BeforeCommonEvent, 0, "veto", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return d, ErrInterrupt
	})
	hc.Register(BeforeCommonEvent, 1, "should_not_run", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		secondCalled = true
		return pass(d)
	})
	_, err := hc.Trigger(context.Background(), BeforeCommonEvent, nil)
	assert.True(t, errors.Is(err, ErrInterrupt))
	assert.False(t, secondCalled)
}

func TestTrigger_WrappedInterrupt(t *testing.T) {
	hc := NewHookCenter()
	hc.Register("ev", 0, "veto", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return d, errors.Join(errors.New("quiet hours"), ErrInterrupt)
	})
	_, err := hc.Trigger(context.Background(), "ev", nil)
	assert.ErrorIs(t, err, ErrInterrupt)
}

func TestTrigger_NonInterruptErrorKeepsData(t *testing.T) {
	hc := NewHookCenter()
	var seen interface{}
	hc.Register("ev", 0, "err", func(_ context.Context, _ string, _ interface{}) (interface{}, error) {
		return "garbage", errors.New("some error")
	})
	hc.Register("ev", 1, "second", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		seen = d
		return pass(d)
	})
	out, err := hc.Trigger(context.Background(), "ev", "orig")
	assert.NoError(t, err)
	assert.Equal(t, "orig", seen)
	assert.Equal(t, "orig", out)
}

func TestTrigger_CancelledContext(t *testing.T) {
	hc := NewHookCenter()
	called := false
	hc.Register("ev", 0, "h", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		called = true
		return pass(d)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := hc.Trigger(ctx, "ev", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestUnregister_OnlyNamed(t *testing.T) {
	hc := NewHookCenter()
	var c1, c2 bool
	hc.Register("ev", 0, "h1", func(_ context.Context, _ string, d interface{}) (interface{}, error) { c1 = true; return d, nil })
	hc.Register("ev", 1, "h2", func(_ context.Context, _ string, d interface{}) (interface{}, error) { c2 = true; return d, nil })
	hc.Unregister("ev", "h1")
	hc.Trigger(context.Background(), "ev", nil)
	assert.False(t, c1)
	assert.True(t, c2)
	assert.Equal(t, 1, hc.Count("ev"))
}

func TestUnregisterAll(t *testing.T) {
	hc := NewHookCenter()
	var c1, c2, other bool
	hc.Register(OnRegionPage, 0, "plugin", func(_ context.Context, _ string, d interface{}) (interface{}, error) { c1 = true; return d, nil })
	hc.Register(OnRegionCommonEvent, 0, "plugin", func(_ context.Context, _ string, d interface{}) (interface{}, error) { c2 = true; return d, nil })
	hc.Register(OnRegionPage, 1, "other", func(_ context.Context, _ string, d interface{}) (interface{}, error) { other = true; return d, nil })
	hc.UnregisterAll("plugin")
	hc.Trigger(context.Background(), OnRegionPage, nil)
	hc.Trigger(context.Background(), OnRegionCommonEvent, nil)
	assert.False(t, c1)
	assert.False(t, c2)
	assert.True(t, other)
	assert.Equal(t, 0, hc.Count(OnRegionCommonEvent))
}
