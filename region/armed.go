package region

// ArmedState remembers which region has already fired for the current
// contiguous stay. At most one region is armed at a time; region 0 never is.
type ArmedState struct {
	armed map[int]bool
}

// NewArmedState returns an empty ArmedState.
func NewArmedState() *ArmedState {
	return &ArmedState{armed: make(map[int]bool)}
}

// IsArmed reports whether regionID has fired and not been left since.
func (a *ArmedState) IsArmed(regionID int) bool {
	return a.armed[regionID]
}

// Arm marks regionID as fired and disarms every other region.
func (a *ArmedState) Arm(regionID int) {
	if regionID == 0 {
		return
	}
	for id := range a.armed {
		a.armed[id] = false
	}
	a.armed[regionID] = true
}

// Release disarms every region other than current. Called each settled tick
// so stepping off an area (onto another tag or onto 0) re-enables it.
func (a *ArmedState) Release(current int) {
	for id, on := range a.armed {
		if on && id != current {
			a.armed[id] = false
		}
	}
}

// Active returns the armed region, if any.
func (a *ArmedState) Active() (int, bool) {
	for id, on := range a.armed {
		if on {
			return id, true
		}
	}
	return 0, false
}

// Snapshot returns a copy of the armed flags, for diagnostics.
func (a *ArmedState) Snapshot() map[int]bool {
	out := make(map[int]bool, len(a.armed))
	for id, on := range a.armed {
		out[id] = on
	}
	return out
}

// Reset clears all flags.
func (a *ArmedState) Reset() {
	a.armed = make(map[int]bool)
}
