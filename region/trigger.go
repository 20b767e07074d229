package region

// Agent is a map event as seen by the trigger.
type Agent interface {
	Position() (x, y int)
	// IsMoving is true while the agent is between tiles.
	IsMoving() bool
}

// Grid resolves tile coordinates to region IDs (0 = no region).
type Grid interface {
	RegionAt(x, y int) int
}

// SwitchReader reads global switches.
type SwitchReader interface {
	GetSwitch(id int) bool
}

// PageSet exposes an agent's candidate pages in declaration order.
type PageSet interface {
	PageCount() int
	// MeetsConditions evaluates the page's own conditions (switches,
	// variables, self switches), ignoring any region condition.
	MeetsConditions(index int) bool
	// LeadingComment returns the text of the page's first command when that
	// command is a comment.
	LeadingComment(index int) (string, bool)
}

// Dispatcher carries out firings.
type Dispatcher interface {
	// ReserveCommonEvent queues a common event on the host. Fire and forget.
	ReserveCommonEvent(regionID, commonEventID int)
	// ActivatePage replaces the agent's page and restarts its command cursor.
	ActivatePage(regionID, pageIndex int)
}

// Env bundles the collaborators a Trigger consults on a tick.
// Any field may be nil: a nil Pages skips page switching and a nil
// Dispatcher only reports firings.
type Env struct {
	Switches   SwitchReader
	Pages      PageSet
	Dispatcher Dispatcher
}

// Kind distinguishes the two firing actions.
type Kind int

const (
	KindCommonEvent Kind = iota + 1
	KindPage
)

func (k Kind) String() string {
	switch k {
	case KindCommonEvent:
		return "common_event"
	case KindPage:
		return "page"
	}
	return "unknown"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Firing records one dispatched action. Target is the common event ID for
// KindCommonEvent and the page index for KindPage.
type Firing struct {
	Kind   Kind
	Region int
	Target int
}

// Trigger holds one agent's bindings and armed state.
// It is not safe for concurrent use; the owning room serializes ticks.
type Trigger struct {
	binding      Binding
	hasBinding   bool
	enableSwitch int

	commonArmed *ArmedState
	pageArmed   *ArmedState
}

// NewTrigger builds a Trigger from the agent's regionCommonEvent meta value
// (empty when the note has none). enableSwitch gates the common-event action;
// 0 disables the gate.
func NewTrigger(meta string, enableSwitch int) *Trigger {
	t := &Trigger{
		enableSwitch: enableSwitch,
		commonArmed:  NewArmedState(),
		pageArmed:    NewArmedState(),
	}
	if meta != "" {
		t.binding, t.hasBinding = ParseBinding(meta)
	}
	return t
}

// Binding returns the parsed common-event binding, if any.
func (t *Trigger) Binding() (Binding, bool) {
	return t.binding, t.hasBinding
}

// CommonEventArmed exposes the armed state of the common-event action.
func (t *Trigger) CommonEventArmed() *ArmedState { return t.commonArmed }

// PageArmed exposes the armed state of the page-switch action.
func (t *Trigger) PageArmed() *ArmedState { return t.pageArmed }

// Tick samples the agent's tile and resolves it. No-op while moving.
func (t *Trigger) Tick(a Agent, g Grid, env Env) []Firing {
	if a.IsMoving() {
		return nil
	}
	x, y := a.Position()
	return t.Resolve(g.RegionAt(x, y), env)
}

// Resolve runs both actions against the region the agent has settled on.
func (t *Trigger) Resolve(regionID int, env Env) []Firing {
	var fired []Firing
	if f, ok := t.resolveCommonEvent(regionID, env); ok {
		fired = append(fired, f)
	}
	if f, ok := t.resolvePage(regionID, env); ok {
		fired = append(fired, f)
	}
	return fired
}

func (t *Trigger) enabled(sw SwitchReader) bool {
	if t.enableSwitch <= 0 {
		return true
	}
	return sw != nil && sw.GetSwitch(t.enableSwitch)
}

func (t *Trigger) resolveCommonEvent(regionID int, env Env) (Firing, bool) {
	if !t.hasBinding || !t.enabled(env.Switches) {
		return Firing{}, false
	}
	t.commonArmed.Release(regionID)
	if regionID == 0 || regionID != t.binding.Region || t.commonArmed.IsArmed(regionID) {
		return Firing{}, false
	}
	t.commonArmed.Arm(regionID)
	if env.Dispatcher != nil {
		env.Dispatcher.ReserveCommonEvent(regionID, t.binding.CommonEventID)
	}
	return Firing{Kind: KindCommonEvent, Region: regionID, Target: t.binding.CommonEventID}, true
}

func (t *Trigger) resolvePage(regionID int, env Env) (Firing, bool) {
	if env.Pages == nil {
		return Firing{}, false
	}
	t.pageArmed.Release(regionID)
	if regionID == 0 || t.pageArmed.IsArmed(regionID) {
		return Firing{}, false
	}
	idx, ok := FindRegionPage(env.Pages, regionID)
	if !ok {
		return Firing{}, false
	}
	t.pageArmed.Arm(regionID)
	if env.Dispatcher != nil {
		env.Dispatcher.ActivatePage(regionID, idx)
	}
	return Firing{Kind: KindPage, Region: regionID, Target: idx}, true
}

// FindRegionPage scans pages from last to first and returns the first page
// whose conditions hold and whose leading comment accepts regionID.
func FindRegionPage(pages PageSet, regionID int) (int, bool) {
	for i := pages.PageCount() - 1; i >= 0; i-- {
		comment, ok := pages.LeadingComment(i)
		if !ok {
			continue
		}
		cond, ok := ParseCondition(comment)
		if !ok || !Condition(cond).Matches(regionID) {
			continue
		}
		if !pages.MeetsConditions(i) {
			continue
		}
		return i, true
	}
	return -1, false
}
