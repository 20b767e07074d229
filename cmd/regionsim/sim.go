package main

import (
	"strings"

	"github.com/kasuganosora/rmmvregion/region"
	"github.com/kasuganosora/rmmvregion/resource"
	"go.uber.org/zap"
)

// Event is one firing observed during a replay.
type Event struct {
	Step   int         `json:"step"`
	Agent  string      `json:"agent"`
	X      int         `json:"x"`
	Y      int         `json:"y"`
	Kind   region.Kind `json:"kind"`
	Region int         `json:"region"`
	Target int         `json:"target"`
}

type grid [][]int

func (g grid) RegionAt(x, y int) int {
	if y < 0 || y >= len(g) || x < 0 || x >= len(g[y]) {
		return 0
	}
	return g[y][x]
}

func (g grid) inBounds(x, y int) bool {
	return y >= 0 && y < len(g) && x >= 0 && x < len(g[y])
}

type switches map[int]bool

func (s switches) GetSwitch(id int) bool { return s[id] }

// simAgent satisfies region.Agent, region.PageSet and region.Dispatcher.
// Steps are instantaneous, so the agent is never mid-move when sampled.
type simAgent struct {
	spec     Agent
	x, y     int
	page     int
	reserved []int
	sw       switches
	trig     *region.Trigger
	env      region.Env
}

func (a *simAgent) Position() (int, int) { return a.x, a.y }
func (a *simAgent) IsMoving() bool       { return false }

func (a *simAgent) PageCount() int { return len(a.spec.Pages) }

func (a *simAgent) MeetsConditions(i int) bool {
	id := a.spec.Pages[i].Switch
	return id == 0 || a.sw.GetSwitch(id)
}

func (a *simAgent) LeadingComment(i int) (string, bool) {
	c := a.spec.Pages[i].Comment
	return c, c != ""
}

func (a *simAgent) ReserveCommonEvent(_, commonEventID int) {
	a.reserved = append(a.reserved, commonEventID)
}

func (a *simAgent) ActivatePage(_, pageIndex int) { a.page = pageIndex }

// apply runs path entry st: switch changes first, then the move. Moves off
// the grid leave the agent in place.
func (a *simAgent) apply(st Step, step int, g grid, logger *zap.Logger) {
	if st.On > 0 {
		a.sw[st.On] = true
	}
	if st.Off > 0 {
		a.sw[st.Off] = false
	}
	if st.Move == "" {
		return
	}
	d := moveDirs[strings.ToLower(st.Move)]
	if nx, ny := a.x+d[0], a.y+d[1]; g.inBounds(nx, ny) {
		a.x, a.y = nx, ny
		return
	}
	logger.Debug("move blocked", zap.String("agent", a.spec.Name), zap.Int("step", step))
}

// Replay advances all agents together, one path entry per step, and returns
// the firings ordered by step and then by agent. Each step first applies every
// agent's entry in scenario order against the shared switches, then samples
// every agent's tile. Agents whose path has ended stay where they are and are
// still sampled.
func Replay(sc *Scenario, logger *zap.Logger) []Event {
	if logger == nil {
		logger = zap.NewNop()
	}
	rows, _ := sc.Regions()
	g := grid(rows)
	sw := switches{}
	for _, id := range sc.Switches {
		sw[id] = true
	}

	agents := make([]*simAgent, 0, len(sc.Agents))
	steps := 0
	for _, spec := range sc.Agents {
		meta := resource.ParseMeta(spec.Note)[region.MetaKey]
		a := &simAgent{
			spec: spec, x: spec.Start[0], y: spec.Start[1], page: -1, sw: sw,
			trig: region.NewTrigger(meta, sc.EnableSwitch),
		}
		if meta != "" {
			if _, ok := a.trig.Binding(); !ok {
				logger.Warn("invalid region binding", zap.String("agent", spec.Name), zap.String("meta", meta))
			}
		}
		a.env = region.Env{Switches: sw, Dispatcher: a}
		if len(spec.Pages) > 0 {
			a.env.Pages = a
		}
		agents = append(agents, a)
		if len(spec.Path) > steps {
			steps = len(spec.Path)
		}
	}

	var out []Event
	sample := func(step int) {
		for _, a := range agents {
			for _, f := range a.trig.Tick(a, g, a.env) {
				out = append(out, Event{
					Step: step, Agent: a.spec.Name, X: a.x, Y: a.y,
					Kind: f.Kind, Region: f.Region, Target: f.Target,
				})
			}
		}
	}

	sample(0)
	for step := 1; step <= steps; step++ {
		for _, a := range agents {
			if step <= len(a.spec.Path) {
				a.apply(a.spec.Path[step-1], step, g, logger)
			}
		}
		sample(step)
	}
	return out
}
