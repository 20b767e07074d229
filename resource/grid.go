package resource

// Direction bits, matching RMMV tileset flag layout: bit0=down(2),
// bit1=left(4), bit2=right(6), bit3=up(8).
const (
	bitDown  uint8 = 0x01
	bitLeft  uint8 = 0x02
	bitRight uint8 = 0x04
	bitUp    uint8 = 0x08

	starFlag = 0x10
)

func dirBit(dir int) uint8 {
	switch dir {
	case 2:
		return bitDown
	case 4:
		return bitLeft
	case 6:
		return bitRight
	case 8:
		return bitUp
	}
	return 0
}

// PassabilityMap is the read-only tile grid of one map: a blocked-direction
// mask per tile and the region ID from RMMV's layer 5.
type PassabilityMap struct {
	Width  int
	Height int
	// blocked[y*Width+x] holds the direction bits that cannot be exited.
	blocked []uint8
	// regions is nil when the map has fewer than 6 layers.
	regions []int
}

// NewPassabilityMap creates a PassabilityMap with all tiles passable and no
// region layer.
func NewPassabilityMap(w, h int) *PassabilityMap {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &PassabilityMap{Width: w, Height: h, blocked: make([]uint8, w*h)}
}

func (pm *PassabilityMap) inBounds(x, y int) bool {
	return x >= 0 && x < pm.Width && y >= 0 && y < pm.Height
}

// SetPass sets the passability for a specific RMMV direction (2/4/6/8) at (x, y).
func (pm *PassabilityMap) SetPass(x, y, dir int, passable bool) {
	bit := dirBit(dir)
	if bit == 0 || !pm.inBounds(x, y) {
		return
	}
	if passable {
		pm.blocked[y*pm.Width+x] &^= bit
	} else {
		pm.blocked[y*pm.Width+x] |= bit
	}
}

// CanPass reports whether leaving (x, y) in direction dir (2/4/6/8) is allowed.
func (pm *PassabilityMap) CanPass(x, y, dir int) bool {
	bit := dirBit(dir)
	if bit == 0 || !pm.inBounds(x, y) {
		return false
	}
	return pm.blocked[y*pm.Width+x]&bit == 0
}

// SetRegion sets the region ID at (x, y), allocating the region layer if needed.
func (pm *PassabilityMap) SetRegion(x, y, regionID int) {
	if !pm.inBounds(x, y) {
		return
	}
	if pm.regions == nil {
		pm.regions = make([]int, pm.Width*pm.Height)
	}
	pm.regions[y*pm.Width+x] = regionID
}

// RegionAt returns the region ID at (x, y); 0 when out of bounds or the map
// carries no region layer.
func (pm *PassabilityMap) RegionAt(x, y int) int {
	if pm == nil || pm.regions == nil || !pm.inBounds(x, y) {
		return 0
	}
	return pm.regions[y*pm.Width+x]
}

// HasRegions reports whether the map carried a region layer.
func (pm *PassabilityMap) HasRegions() bool {
	return pm != nil && pm.regions != nil
}

// RegionRestrictions stores the region-based movement restriction config
// parsed from the YEP_RegionRestrictions plugin.
type RegionRestrictions struct {
	EventRestrict []int // regions that block event movement
	AllRestrict   []int // regions that block all movement
	EventAllow    []int // regions that always allow event movement
	AllAllow      []int // regions that always allow all movement
}

func containsRegion(list []int, regionID int) bool {
	for _, r := range list {
		if r == regionID {
			return true
		}
	}
	return false
}

// IsEventRestricted returns true if the given region blocks event movement.
func (rr *RegionRestrictions) IsEventRestricted(regionID int) bool {
	if rr == nil || regionID == 0 {
		return false
	}
	return containsRegion(rr.EventRestrict, regionID) || containsRegion(rr.AllRestrict, regionID)
}

// IsEventAllowed returns true if the given region always allows event movement.
func (rr *RegionRestrictions) IsEventAllowed(regionID int) bool {
	if rr == nil || regionID == 0 {
		return false
	}
	return containsRegion(rr.EventAllow, regionID) || containsRegion(rr.AllAllow, regionID)
}

// buildPassability pre-computes passability for each map from tileset flags,
// following Game_Map.checkPassage: for each direction, the first non-star tile
// of layers 0-3 decides. With CP_Star_Passability_Fix a star tile whose
// direction bit is set blocks instead of being skipped.
func (rl *ResourceLoader) buildPassability() {
	tilesets := make(map[int]*Tileset, len(rl.Tilesets))
	for _, ts := range rl.Tilesets {
		if ts != nil {
			tilesets[ts.ID] = ts
		}
	}

	for mapID, md := range rl.Maps {
		pm := NewPassabilityMap(md.Width, md.Height)
		if ts, ok := tilesets[md.TilesetID]; ok && len(ts.Flags) > 0 {
			fillPassability(pm, md, ts.Flags, rl.CPStarPassFix)
		}
		extractRegions(pm, md)
		rl.Passability[mapID] = pm
	}
}

func fillPassability(pm *PassabilityMap, md *MapData, flags []int, starFix bool) {
	area := md.Width * md.Height
	if area == 0 {
		return
	}
	// Layers 4 (shadow) and 5 (region) are not tiles.
	layers := len(md.Data) / area
	if layers > 4 {
		layers = 4
	}
	bits := [4]uint8{bitDown, bitLeft, bitRight, bitUp}

	for y := 0; y < md.Height; y++ {
		for x := 0; x < md.Width; x++ {
			var mask uint8
			for _, bit := range bits {
				if !tilePasses(md, flags, layers, x, y, int(bit), starFix) {
					mask |= bit
				}
			}
			pm.blocked[y*md.Width+x] = mask
		}
	}
}

func tilePasses(md *MapData, flags []int, layers, x, y, bit int, starFix bool) bool {
	area := md.Width * md.Height
	for z := 0; z < layers; z++ {
		tileID := md.Data[z*area+y*md.Width+x]
		if tileID < 0 || tileID >= len(flags) {
			continue
		}
		flag := flags[tileID]
		if flag&starFlag != 0 {
			if starFix && flag&bit != 0 {
				return false
			}
			continue
		}
		return flag&bit == 0
	}
	return false
}

// extractRegions copies layer 5 (z*H*W + y*W + x) into pm.
func extractRegions(pm *PassabilityMap, md *MapData) {
	area := md.Width * md.Height
	if area <= 0 || len(md.Data) < 6*area {
		return
	}
	pm.regions = make([]int, area)
	copy(pm.regions, md.Data[5*area:6*area])
}
