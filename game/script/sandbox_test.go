package script

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSandbox(t *testing.T) *Sandbox {
	t.Helper()
	return NewSandbox(2, 200*time.Millisecond, zap.NewNop())
}

func TestSandbox_BasicArithmetic(t *testing.T) {
	out, err := newSandbox(t).Eval(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

func TestSandbox_NullAndUndefined(t *testing.T) {
	sb := newSandbox(t)
	for _, src := range []string{"null", "undefined"} {
		out, err := sb.Eval(context.Background(), src, nil)
		require.NoError(t, err)
		assert.Nil(t, out, src)
	}
}

func TestSandbox_Errors(t *testing.T) {
	sb := newSandbox(t)
	_, err := sb.Eval(context.Background(), "{{{{ broken", nil)
	assert.Error(t, err)
	_, err = sb.Eval(context.Background(), `throw new Error("boom")`, nil)
	assert.Error(t, err)
}

func TestSandbox_Timeout(t *testing.T) {
	sb := NewSandbox(1, 50*time.Millisecond, zap.NewNop())
	_, err := sb.Eval(context.Background(), `while(true){}`, nil)
	assert.True(t, errors.Is(err, ErrTimeout), "expected ErrTimeout, got %v", err)

	// The pool replaced the interrupted VM.
	out, err := sb.Eval(context.Background(), "2*3", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), out)
}

func TestSandbox_ContextCancel(t *testing.T) {
	sb := NewSandbox(1, 5*time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sb.Eval(ctx, `while(true){}`, nil)
	assert.Error(t, err)
}

func TestSandbox_Math(t *testing.T) {
	sb := newSandbox(t)
	cases := map[string]float64{
		"Math.floor(3.7)":  3,
		"Math.ceil(3.2)":   4,
		"Math.abs(-5)":     5,
		"Math.max(3, 7)":   7,
		"Math.min(3, 7)":   3,
		"Math.round(2.5)":  3,
		"Math.random()":    0,
		"Math.floor(-1.5)": -2,
	}
	for src, want := range cases {
		out, err := sb.Eval(context.Background(), src, nil)
		require.NoError(t, err, src)
		assert.EqualValues(t, want, toFloat(out), src)
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return -999
}

func TestSandbox_BlockedGlobals(t *testing.T) {
	sb := newSandbox(t)
	for _, src := range []string{`require("fs")`, `process.exit(1)`, `eval("1")`} {
		_, err := sb.Eval(context.Background(), src, nil)
		assert.Error(t, err, src)
	}
}

func TestSandbox_GameVariables(t *testing.T) {
	vars := map[int]int{1: 100}
	sc := &ScriptContext{
		GetVariable: func(id int) int { return vars[id] },
		SetVariable: func(id int, v int) { vars[id] = v },
	}
	sb := newSandbox(t)
	_, err := sb.Eval(context.Background(), `$gameVariables.setValue(2, $gameVariables.value(1) + 5)`, sc)
	require.NoError(t, err)
	assert.Equal(t, 105, vars[2])
}

func TestSandbox_GameSwitches(t *testing.T) {
	switches := map[int]bool{}
	sc := &ScriptContext{
		GetSwitch: func(id int) bool { return switches[id] },
		SetSwitch: func(id int, v bool) { switches[id] = v },
	}
	_, err := newSandbox(t).Eval(context.Background(), `$gameSwitches.setValue(15, true)`, sc)
	require.NoError(t, err)
	assert.True(t, switches[15])
}

func TestSandbox_SelfSwitchesAndMap(t *testing.T) {
	self := map[string]bool{}
	sc := &ScriptContext{
		MapID:   3,
		EventID: 7,
		GetSelfSwitch: func(m, e int, ch string) bool {
			return self[ch]
		},
		SetSelfSwitch: func(m, e int, ch string, v bool) {
			if m == 3 && e == 7 {
				self[ch] = v
			}
		},
	}
	_, err := newSandbox(t).Eval(context.Background(),
		`$gameSelfSwitches.setValue([$gameMap.mapId(), $gameMap.eventId(), "B"], true)`, sc)
	require.NoError(t, err)
	assert.True(t, self["B"])
}

func TestSandbox_ReserveCommonEvent(t *testing.T) {
	var reserved []int
	sc := &ScriptContext{ReserveCommonEvent: func(id int) { reserved = append(reserved, id) }}
	_, err := newSandbox(t).Eval(context.Background(), `$gameTemp.reserveCommonEvent(4)`, sc)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, reserved)
}

func TestSandbox_ContextDoesNotLeak(t *testing.T) {
	sb := NewSandbox(1, 200*time.Millisecond, zap.NewNop())
	sc := &ScriptContext{ReserveCommonEvent: func(int) {}}
	_, err := sb.Eval(context.Background(), `$gameTemp.reserveCommonEvent(1)`, sc)
	require.NoError(t, err)

	_, err = sb.Eval(context.Background(), `$gameTemp.reserveCommonEvent(1)`, nil)
	assert.Error(t, err)
}

func TestSandbox_EvalBool(t *testing.T) {
	sb := newSandbox(t)
	ctx := context.Background()
	assert.True(t, sb.EvalBool(ctx, "1 < 2", nil))
	assert.False(t, sb.EvalBool(ctx, "1 > 2", nil))
	assert.False(t, sb.EvalBool(ctx, "0", nil))
	assert.True(t, sb.EvalBool(ctx, `"x"`, nil))
	assert.False(t, sb.EvalBool(ctx, "null", nil))
	assert.False(t, sb.EvalBool(ctx, "throw 1", nil))
}

func TestSandbox_VMPool_Concurrent(t *testing.T) {
	sb := NewSandbox(4, 200*time.Millisecond, zap.NewNop())
	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := sb.Eval(context.Background(), "1+1", nil)
			done <- err
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}
}

func TestNewVMPool_Defaults(t *testing.T) {
	p := NewVMPool(0, 0, nil)
	assert.Equal(t, 4, p.Size())
}
