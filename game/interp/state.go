package interp

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// applySwitches handles Control Switches (121).
// [0]=start id, [1]=end id, [2]=0 ON / 1 OFF.
func (in *Interpreter) applySwitches(params []interface{}) {
	gs := in.env.State
	if gs == nil {
		return
	}
	val := paramInt(params, 2) == 0
	for id := paramInt(params, 0); id <= paramInt(params, 1); id++ {
		gs.SetSwitch(id, val)
	}
}

// applyVariables handles Control Variables (122).
// [0]=start id, [1]=end id, [2]=op (0 set, 1 add, 2 sub, 3 mul, 4 div, 5 mod),
// [3]=operand type (0 constant, 1 variable, 2 random, 4 script),
// [4]=operand or min, [5]=max for random.
// Operand type 3 (game data) needs actor/party state and is ignored.
func (in *Interpreter) applyVariables(ctx context.Context, params []interface{}) {
	gs := in.env.State
	if gs == nil {
		return
	}
	op := paramInt(params, 2)
	start, end := paramInt(params, 0), paramInt(params, 1)

	var operand int
	switch paramInt(params, 3) {
	case 0:
		operand = paramInt(params, 4)
	case 1:
		operand = gs.GetVariable(paramInt(params, 4))
	case 2:
		lo, hi := paramInt(params, 4), paramInt(params, 5)
		if hi < lo {
			lo, hi = hi, lo
		}
		// One draw per command, matching Game_Interpreter.command122.
		operand = lo + in.env.intn(hi-lo+1)
	case 4:
		v, ok := in.evalNumber(ctx, paramStr(params, 4))
		if !ok {
			return
		}
		operand = v
	default:
		return
	}

	for id := start; id <= end; id++ {
		gs.SetVariable(id, operate(gs.GetVariable(id), operand, op))
	}
}

func operate(cur, val, op int) int {
	switch op {
	case 0:
		return val
	case 1:
		return cur + val
	case 2:
		return cur - val
	case 3:
		return cur * val
	case 4:
		if val == 0 {
			return cur
		}
		return cur / val
	case 5:
		if val == 0 {
			return cur
		}
		return cur % val
	}
	return cur
}

func (in *Interpreter) evalNumber(ctx context.Context, src string) (int, bool) {
	if in.env.Sandbox == nil {
		return 0, false
	}
	v, err := in.env.Sandbox.Eval(ctx, src, in.scriptContext())
	if err != nil {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	in.env.logger().Debug("script operand is not a number", zap.String("type", fmt.Sprintf("%T", v)))
	return 0, false
}

// applySelfSwitch handles Control Self Switch (123).
// [0]=channel "A".."D", [1]=0 ON / 1 OFF.
func (in *Interpreter) applySelfSwitch(params []interface{}) {
	gs := in.env.State
	if gs == nil || in.eventID <= 0 {
		return
	}
	gs.SetSelfSwitch(in.env.MapID, in.eventID, paramStr(params, 0), paramInt(params, 1) == 0)
}
