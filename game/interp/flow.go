package interp

import "context"

// skipBranch moves the cursor past every command nested deeper than the
// current one, landing before the matching else/end at the same indent.
func (in *Interpreter) skipBranch() {
	for in.index+1 < len(in.list) {
		next := in.list[in.index+1]
		if next != nil && next.Indent <= in.indent {
			return
		}
		in.index++
	}
}

// jumpToLoopStart rewinds from a RepeatAbove (413) to its Loop (112).
// execute's index++ then lands on the first body command.
func (in *Interpreter) jumpToLoopStart() {
	for j := in.index - 1; j >= 0; j-- {
		c := in.list[j]
		if c != nil && c.Indent == in.indent {
			in.index = j
			return
		}
	}
}

// skipPastLoopEnd moves from a BreakLoop (113) to the RepeatAbove (413)
// closing the innermost enclosing loop, counting nested loops on the way.
func (in *Interpreter) skipPastLoopEnd() {
	depth := 0
	for in.index < len(in.list)-1 {
		in.index++
		c := in.list[in.index]
		if c == nil {
			continue
		}
		if c.Code == CmdLoop {
			depth++
		}
		if c.Code == CmdRepeatAbove {
			if depth == 0 {
				return
			}
			depth--
		}
	}
}

// findLabel returns the index of Label (118) name, or -1. A missing label
// lets execution continue.
func (in *Interpreter) findLabel(name string) int {
	for j, c := range in.list {
		if c != nil && c.Code == CmdLabel && paramStr(c.Parameters, 0) == name {
			return j
		}
	}
	return -1
}

// evaluateCondition evaluates a Conditional Branch (111).
// params[0] is the condition type: 0 switch, 1 variable, 2 self switch,
// 12 script. Client-side types (timer, actor, enemy, character, gold, item,
// weapon, armor, button, vehicle) count as met.
func (in *Interpreter) evaluateCondition(ctx context.Context, params []interface{}) bool {
	condType := paramInt(params, 0)
	gs := in.env.State
	if gs == nil && condType <= 2 {
		return false
	}
	switch condType {
	case 0:
		// [1]=switch id, [2]=0 ON / 1 OFF
		return gs.GetSwitch(paramInt(params, 1)) == (paramInt(params, 2) == 0)

	case 1:
		// [1]=variable id, [2]=0 constant / 1 variable, [3]=operand, [4]=op
		lhs := gs.GetVariable(paramInt(params, 1))
		rhs := paramInt(params, 3)
		if paramInt(params, 2) == 1 {
			rhs = gs.GetVariable(rhs)
		}
		return compare(lhs, rhs, paramInt(params, 4))

	case 2:
		// [1]=channel "A".."D", [2]=0 ON / 1 OFF
		val := gs.GetSelfSwitch(in.env.MapID, in.eventID, paramStr(params, 1))
		return val == (paramInt(params, 2) == 0)

	case 12:
		if in.env.Sandbox == nil {
			return false
		}
		return in.env.Sandbox.EvalBool(ctx, paramStr(params, 1), in.scriptContext())
	}
	return true
}

// compare applies an RMMV comparison operator:
// 0 ==, 1 >=, 2 <=, 3 >, 4 <, 5 !=.
func compare(lhs, rhs, op int) bool {
	switch op {
	case 0:
		return lhs == rhs
	case 1:
		return lhs >= rhs
	case 2:
		return lhs <= rhs
	case 3:
		return lhs > rhs
	case 4:
		return lhs < rhs
	case 5:
		return lhs != rhs
	}
	return false
}
