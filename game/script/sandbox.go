// Package script runs event Script commands (355/655), script
// conditional branches and plugin-defined snippets in a pool of goja VMs.
package script

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrTimeout is returned when a script exceeds the execution time limit.
var ErrTimeout = errors.New("script: execution timed out")

// ErrPanic is returned when the VM panics while running a script.
var ErrPanic = errors.New("script: uncaught exception")

// ScriptContext provides game-state accessors available inside JS scripts.
// Nil accessors leave the matching $game* global undefined.
type ScriptContext struct {
	MapID   int
	EventID int

	GetVariable func(id int) int
	SetVariable func(id int, value int)
	GetSwitch   func(id int) bool
	SetSwitch   func(id int, value bool)
	// Self switches are keyed by (mapID, eventID, letter) as in RMMV.
	GetSelfSwitch func(mapID, eventID int, ch string) bool
	SetSelfSwitch func(mapID, eventID int, ch string, value bool)
	// ReserveCommonEvent backs $gameTemp.reserveCommonEvent.
	ReserveCommonEvent func(id int)
}

// contextGlobals are reset after every run so one caller's accessors never
// leak into the next script.
var contextGlobals = []string{"$gameVariables", "$gameSwitches", "$gameSelfSwitches", "$gameTemp", "$gameMap"}

// VMPool is a thread-safe pool of pre-initialised goja runtimes.
type VMPool struct {
	pool    chan *goja.Runtime
	timeout time.Duration
	logger  *zap.Logger
}

// NewVMPool creates a VMPool with the given concurrency size and per-script timeout.
func NewVMPool(size int, timeout time.Duration, logger *zap.Logger) *VMPool {
	if size <= 0 {
		size = 4
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &VMPool{
		pool:    make(chan *goja.Runtime, size),
		timeout: timeout,
		logger:  logger,
	}
	for i := 0; i < size; i++ {
		p.pool <- newSafeVM()
	}
	return p
}

// Size returns the number of VMs in the pool.
func (p *VMPool) Size() int { return cap(p.pool) }

// Run executes src inside a pooled VM with the given ScriptContext.
// Returns the exported value of the last expression evaluated.
func (p *VMPool) Run(ctx context.Context, src string, sc *ScriptContext) (interface{}, error) {
	var vm *goja.Runtime
	select {
	case vm = <-p.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result, err := p.runVM(ctx, vm, src, sc)
	if errors.Is(err, ErrTimeout) {
		// An interrupted VM is not reusable.
		p.pool <- newSafeVM()
		return nil, err
	}
	resetContext(vm)
	vm.ClearInterrupt()
	p.pool <- vm
	return result, err
}

func (p *VMPool) runVM(ctx context.Context, vm *goja.Runtime, src string, sc *ScriptContext) (result interface{}, err error) {
	if sc != nil {
		injectContext(vm, sc)
	}

	stop := make(chan struct{})
	exited := make(chan struct{})
	timer := time.AfterFunc(p.timeout, func() { vm.Interrupt(ErrTimeout) })
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			vm.Interrupt(ErrTimeout)
		case <-stop:
		}
	}()
	defer func() {
		timer.Stop()
		close(stop)
		<-exited
	}()

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, ErrPanic
		}
	}()

	v, runErr := vm.RunString(src)
	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			return nil, ErrTimeout
		}
		var ex *goja.Exception
		if errors.As(runErr, &ex) {
			return nil, errors.New(ex.Error())
		}
		return nil, runErr
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}

// newSafeVM creates a goja Runtime with host-escaping globals removed.
func newSafeVM() *goja.Runtime {
	vm := goja.New()
	for _, name := range []string{"require", "process", "fetch", "XMLHttpRequest", "eval", "Function"} {
		vm.Set(name, goja.Undefined())
	}
	mathObj := vm.NewObject()
	_ = mathObj.Set("floor", math.Floor)
	_ = mathObj.Set("ceil", math.Ceil)
	_ = mathObj.Set("round", func(v float64) float64 { return math.Floor(v + 0.5) })
	_ = mathObj.Set("abs", math.Abs)
	_ = mathObj.Set("max", math.Max)
	_ = mathObj.Set("min", math.Min)
	// Deterministic on the server so replays agree.
	_ = mathObj.Set("random", func() float64 { return 0 })
	vm.Set("Math", mathObj)
	return vm
}

// injectContext binds ScriptContext accessors into the VM as $game* globals.
func injectContext(vm *goja.Runtime, sc *ScriptContext) {
	if sc.GetVariable != nil && sc.SetVariable != nil {
		vars := vm.NewObject()
		_ = vars.Set("value", func(id int) int { return sc.GetVariable(id) })
		_ = vars.Set("setValue", func(id int, v float64) { sc.SetVariable(id, int(v)) })
		vm.Set("$gameVariables", vars)
	}
	if sc.GetSwitch != nil && sc.SetSwitch != nil {
		sw := vm.NewObject()
		_ = sw.Set("value", func(id int) bool { return sc.GetSwitch(id) })
		_ = sw.Set("setValue", func(id int, v bool) { sc.SetSwitch(id, v) })
		vm.Set("$gameSwitches", sw)
	}
	if sc.GetSelfSwitch != nil && sc.SetSelfSwitch != nil {
		ss := vm.NewObject()
		_ = ss.Set("value", func(key []interface{}) bool {
			m, e, ch, ok := selfSwitchKey(key)
			return ok && sc.GetSelfSwitch(m, e, ch)
		})
		_ = ss.Set("setValue", func(key []interface{}, v bool) {
			if m, e, ch, ok := selfSwitchKey(key); ok {
				sc.SetSelfSwitch(m, e, ch, v)
			}
		})
		vm.Set("$gameSelfSwitches", ss)
	}
	if sc.ReserveCommonEvent != nil {
		tmp := vm.NewObject()
		_ = tmp.Set("reserveCommonEvent", func(id int) { sc.ReserveCommonEvent(id) })
		vm.Set("$gameTemp", tmp)
	}
	gm := vm.NewObject()
	mapID, eventID := sc.MapID, sc.EventID
	_ = gm.Set("mapId", func() int { return mapID })
	_ = gm.Set("eventId", func() int { return eventID })
	vm.Set("$gameMap", gm)
}

func resetContext(vm *goja.Runtime) {
	for _, name := range contextGlobals {
		vm.Set(name, goja.Undefined())
	}
}

// selfSwitchKey decodes an RMMV self switch key [mapId, eventId, "A"].
func selfSwitchKey(key []interface{}) (int, int, string, bool) {
	if len(key) != 3 {
		return 0, 0, "", false
	}
	m, ok1 := toInt(key[0])
	e, ok2 := toInt(key[1])
	ch, ok3 := key[2].(string)
	return m, e, ch, ok1 && ok2 && ok3
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Sandbox wraps a VMPool and logs script failures.
type Sandbox struct {
	pool   *VMPool
	logger *zap.Logger
}

// NewSandbox creates a Sandbox backed by a VMPool.
func NewSandbox(size int, timeout time.Duration, logger *zap.Logger) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sandbox{
		pool:   NewVMPool(size, timeout, logger),
		logger: logger,
	}
}

// Eval executes src with the given ScriptContext, returning the result.
func (sb *Sandbox) Eval(ctx context.Context, src string, sc *ScriptContext) (interface{}, error) {
	result, err := sb.pool.Run(ctx, src, sc)
	if err != nil {
		sb.logger.Warn("script execution error",
			zap.String("src_preview", truncate(src, 80)),
			zap.Error(err))
	}
	return result, err
}

// EvalBool runs src and reports its truthiness (used by conditional branches).
// Errors count as false.
func (sb *Sandbox) EvalBool(ctx context.Context, src string, sc *ScriptContext) bool {
	v, err := sb.Eval(ctx, src, sc)
	if err != nil {
		return false
	}
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case int64:
		return b != 0
	case float64:
		return b != 0 && !math.IsNaN(b)
	case string:
		return b != ""
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
