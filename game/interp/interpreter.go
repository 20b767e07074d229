// Package interp is a step-wise RMMV event interpreter. A map room owns one
// per running event and advances it a bounded number of commands per tick.
package interp

import (
	"context"
	"math/rand"
	"strings"

	"github.com/kasuganosora/rmmvregion/game/script"
	"github.com/kasuganosora/rmmvregion/plugin/hook"
	"github.com/kasuganosora/rmmvregion/resource"
	"go.uber.org/zap"
)

// ---- RMMV event command codes handled server-side ----

const (
	CmdEnd              = 0
	CmdComment          = 108
	CmdCommentCont      = 408
	CmdConditionalStart = 111
	CmdElseBranch       = 411
	CmdConditionalEnd   = 412
	CmdLoop             = 112
	CmdBreakLoop        = 113
	CmdRepeatAbove      = 413
	CmdExitEvent        = 115
	CmdCallCommonEvent  = 117
	CmdLabel            = 118
	CmdJumpToLabel      = 119
	CmdChangeSwitches   = 121
	CmdChangeVars       = 122
	CmdChangeSelfSwitch = 123
	CmdWait             = 230
	CmdScript           = 355
	CmdScriptCont       = 655
	CmdPluginCommand    = 356
)

const (
	// maxCallDepth bounds nested common event calls.
	maxCallDepth = 10
	// DefaultStepBudget is the number of commands one Update may execute.
	DefaultStepBudget = 1000
	// DefaultTickRate is the room tick rate assumed when Env.TickRate is 0.
	DefaultTickRate = 20
)

// GameState is read/write access to switches, variables and self switches.
type GameState interface {
	GetSwitch(id int) bool
	SetSwitch(id int, val bool)
	GetVariable(id int) int
	SetVariable(id int, val int)
	GetSelfSwitch(mapID, eventID int, ch string) bool
	SetSelfSwitch(mapID, eventID int, ch string, val bool)
}

// CommonEventSource resolves common event IDs. *resource.ResourceLoader
// satisfies it.
type CommonEventSource interface {
	CommonEvent(id int) *resource.CommonEvent
}

// PluginCommand is the hook payload for command 356.
type PluginCommand struct {
	MapID   int
	EventID int
	Command string
	Args    []string
}

// Env carries the collaborators shared by every interpreter of one room.
type Env struct {
	MapID        int
	State        GameState
	CommonEvents CommonEventSource
	Sandbox      *script.Sandbox
	Hooks        *hook.HookCenter
	Logger       *zap.Logger
	// ReserveCommonEvent backs $gameTemp.reserveCommonEvent inside scripts.
	ReserveCommonEvent func(id int)
	// OnPluginCommand, when set, receives plugin commands instead of Hooks.
	// Map rooms use it to publish them after releasing the room lock.
	OnPluginCommand func(pc *PluginCommand)
	// TickRate converts Wait frames (60 fps) into room ticks.
	TickRate int
	// StepBudget caps commands per Update; 0 means DefaultStepBudget.
	StepBudget int
	// Rand drives random variable operands; nil uses the global source.
	Rand *rand.Rand
}

func (env *Env) logger() *zap.Logger {
	if env.Logger == nil {
		return zap.NewNop()
	}
	return env.Logger
}

func (env *Env) budget() int {
	if env.StepBudget <= 0 {
		return DefaultStepBudget
	}
	return env.StepBudget
}

func (env *Env) intn(n int) int {
	if n <= 0 {
		return 0
	}
	if env.Rand != nil {
		return env.Rand.Intn(n)
	}
	return rand.Intn(n)
}

// FramesToTicks converts 60 fps frames into ticks at tickRate, rounding up.
func FramesToTicks(frames, tickRate int) int {
	if frames <= 0 {
		return 0
	}
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	return (frames*tickRate + 59) / 60
}

// Interpreter is an instruction cursor over one command list.
// It is not safe for concurrent use.
type Interpreter struct {
	env     *Env
	depth   int
	list    []*resource.EventCommand
	index   int
	eventID int
	indent  int
	branch  map[int]bool
	wait    int
	child   *Interpreter
}

// New creates an idle Interpreter.
func New(env *Env) *Interpreter {
	return &Interpreter{env: env, branch: make(map[int]bool)}
}

// Setup points the cursor at the start of list. Any previous run is discarded.
func (in *Interpreter) Setup(list []*resource.EventCommand, eventID int) {
	in.Clear()
	in.list = list
	in.eventID = eventID
}

// Clear stops the interpreter.
func (in *Interpreter) Clear() {
	in.list = nil
	in.index = 0
	in.indent = 0
	in.wait = 0
	in.child = nil
	in.branch = make(map[int]bool)
}

// IsRunning reports whether a command list is loaded and not finished.
func (in *Interpreter) IsRunning() bool {
	return in.list != nil
}

// EventID returns the event the running list belongs to (0 for common events
// reserved on the map).
func (in *Interpreter) EventID() int { return in.eventID }

// Index returns the position of the next command.
func (in *Interpreter) Index() int { return in.index }

// Waiting reports the ticks left on a Wait command.
func (in *Interpreter) Waiting() int { return in.wait }

// Update advances the cursor until it waits, finishes, or spends the step
// budget. Returns the number of commands executed.
func (in *Interpreter) Update(ctx context.Context) int {
	steps := 0
	budget := in.env.budget()
	for in.IsRunning() && steps < budget {
		if ctx.Err() != nil {
			return steps
		}
		if in.child != nil {
			steps += in.child.Update(ctx)
			if in.child.IsRunning() {
				return steps
			}
			in.child = nil
			continue
		}
		if in.wait > 0 {
			in.wait--
			return steps
		}
		if in.index >= len(in.list) {
			in.Clear()
			return steps
		}
		in.execute(ctx)
		steps++
	}
	return steps
}

func (in *Interpreter) current() *resource.EventCommand {
	if in.index < 0 || in.index >= len(in.list) {
		return nil
	}
	return in.list[in.index]
}

// execute runs the command under the cursor and advances it.
func (in *Interpreter) execute(ctx context.Context) {
	cmd := in.current()
	if cmd == nil {
		in.index++
		return
	}
	in.indent = cmd.Indent
	p := cmd.Parameters

	switch cmd.Code {
	case CmdEnd, CmdComment, CmdCommentCont, CmdConditionalEnd, CmdLoop, CmdLabel, CmdScriptCont:

	case CmdConditionalStart:
		ok := in.evaluateCondition(ctx, p)
		in.branch[in.indent] = ok
		if !ok {
			in.skipBranch()
		}

	case CmdElseBranch:
		if in.branch[in.indent] {
			in.skipBranch()
		}

	case CmdRepeatAbove:
		in.jumpToLoopStart()

	case CmdBreakLoop:
		in.skipPastLoopEnd()

	case CmdExitEvent:
		in.index = len(in.list)
		return

	case CmdJumpToLabel:
		if j := in.findLabel(paramStr(p, 0)); j >= 0 {
			in.index = j
		}

	case CmdCallCommonEvent:
		in.callCommonEvent(paramInt(p, 0))

	case CmdChangeSwitches:
		in.applySwitches(p)

	case CmdChangeVars:
		in.applyVariables(ctx, p)

	case CmdChangeSelfSwitch:
		in.applySelfSwitch(p)

	case CmdWait:
		in.wait = FramesToTicks(paramInt(p, 0), in.env.TickRate)

	case CmdScript:
		in.runScript(ctx)

	case CmdPluginCommand:
		in.pluginCommand(ctx, paramStr(p, 0))

	default:
		// Message, audio, picture and other presentation commands run on clients.
	}
	in.index++
}

// callCommonEvent runs common event id in a child cursor.
func (in *Interpreter) callCommonEvent(id int) {
	if in.env.CommonEvents == nil {
		return
	}
	ce := in.env.CommonEvents.CommonEvent(id)
	if ce == nil {
		in.env.logger().Warn("common event not found", zap.Int("map_id", in.env.MapID), zap.Int("common_event_id", id))
		return
	}
	if in.depth+1 >= maxCallDepth {
		in.env.logger().Warn("common event call depth exceeded",
			zap.Int("common_event_id", id), zap.Int("depth", in.depth+1))
		return
	}
	child := New(in.env)
	child.depth = in.depth + 1
	child.Setup(ce.List, in.eventID)
	in.child = child
}

// runScript joins a 355 command with its 655 continuation lines and
// evaluates the result in the sandbox.
func (in *Interpreter) runScript(ctx context.Context) {
	lines := []string{paramStr(in.current().Parameters, 0)}
	for next := in.index + 1; next < len(in.list); next++ {
		c := in.list[next]
		if c == nil || c.Code != CmdScriptCont {
			break
		}
		lines = append(lines, paramStr(c.Parameters, 0))
		in.index = next
	}
	if in.env.Sandbox == nil {
		return
	}
	_, _ = in.env.Sandbox.Eval(ctx, strings.Join(lines, "\n"), in.scriptContext())
}

func (in *Interpreter) scriptContext() *script.ScriptContext {
	sc := &script.ScriptContext{
		MapID:              in.env.MapID,
		EventID:            in.eventID,
		ReserveCommonEvent: in.env.ReserveCommonEvent,
	}
	if gs := in.env.State; gs != nil {
		sc.GetSwitch = gs.GetSwitch
		sc.SetSwitch = gs.SetSwitch
		sc.GetVariable = gs.GetVariable
		sc.SetVariable = gs.SetVariable
		sc.GetSelfSwitch = gs.GetSelfSwitch
		sc.SetSelfSwitch = gs.SetSelfSwitch
	}
	return sc
}

func (in *Interpreter) pluginCommand(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	pc := &PluginCommand{MapID: in.env.MapID, EventID: in.eventID, Command: fields[0], Args: fields[1:]}
	if in.env.OnPluginCommand != nil {
		in.env.OnPluginCommand(pc)
		return
	}
	if _, err := in.env.Hooks.Trigger(ctx, hook.OnPluginCommand, pc); err != nil {
		in.env.logger().Debug("plugin command interrupted", zap.String("command", pc.Command), zap.Error(err))
	}
}
