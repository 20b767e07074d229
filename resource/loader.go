package resource

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

// ---- RMMV Data Structures ----

type SystemData struct {
	GameTitle  string   `json:"gameTitle"`
	StartMapID int      `json:"startMapId"`
	StartX     int      `json:"startX"`
	StartY     int      `json:"startY"`
	Switches   []string `json:"switches"`
	Variables  []string `json:"variables"`
}

// EventCommand is a single RMMV event command.
// Parameters is []interface{} because RMMV mixes int/string/bool.
type EventCommand struct {
	Code       int           `json:"code"`
	Indent     int           `json:"indent"`
	Parameters []interface{} `json:"parameters"`
}

// EventPageConditions holds the activation conditions for an event page.
type EventPageConditions struct {
	Switch1Valid    bool   `json:"switch1Valid"`
	Switch1ID       int    `json:"switch1Id"`
	Switch2Valid    bool   `json:"switch2Valid"`
	Switch2ID       int    `json:"switch2Id"`
	VariableValid   bool   `json:"variableValid"`
	VariableID      int    `json:"variableId"`
	VariableValue   int    `json:"variableValue"`
	SelfSwitchValid bool   `json:"selfSwitchValid"`
	SelfSwitchCh    string `json:"selfSwitchCh"`
	ActorValid      bool   `json:"actorValid"`
	ActorID         int    `json:"actorId"`
	ItemValid       bool   `json:"itemValid"`
	ItemID          int    `json:"itemId"`
}

// EventImage holds the character sprite image for an event page.
type EventImage struct {
	TileID         int    `json:"tileId"`
	CharacterName  string `json:"characterName"`
	CharacterIndex int    `json:"characterIndex"`
	Direction      int    `json:"direction"`
	Pattern        int    `json:"pattern"`
}

// MoveCommand is a single command in a move route.
type MoveCommand struct {
	Code       int           `json:"code"`
	Parameters []interface{} `json:"parameters"`
}

// MoveRoute defines a custom movement path for an event.
type MoveRoute struct {
	List      []*MoveCommand `json:"list"`
	Repeat    bool           `json:"repeat"`
	Skippable bool           `json:"skippable"`
	Wait      bool           `json:"wait"`
}

// EventPage is one page of an event's command list.
// Trigger: 0=ActionButton, 1=PlayerTouch, 2=EventTouch, 3=Autorun, 4=Parallel
type EventPage struct {
	Conditions    EventPageConditions `json:"conditions"`
	Image         EventImage          `json:"image"`
	Trigger       int                 `json:"trigger"`
	List          []*EventCommand     `json:"list"`
	MoveType      int                 `json:"moveType"`      // 0=fixed,1=random,2=approach,3=custom
	MoveSpeed     int                 `json:"moveSpeed"`     // 1-6
	MoveFrequency int                 `json:"moveFrequency"` // 1-5
	MoveRoute     *MoveRoute          `json:"moveRoute"`
	PriorityType  int                 `json:"priorityType"` // 0=below,1=same,2=above
	StepAnime     bool                `json:"stepAnime"`
	DirectionFix  bool                `json:"directionFix"`
	Through       bool                `json:"through"`
	WalkAnime     bool                `json:"walkAnime"`
}

// LeadingComment returns the text of the page's first command when it is a
// comment (code 108).
func (p *EventPage) LeadingComment() (string, bool) {
	if p == nil || len(p.List) == 0 || p.List[0] == nil {
		return "", false
	}
	cmd := p.List[0]
	if cmd.Code != 108 || len(cmd.Parameters) == 0 {
		return "", false
	}
	s, ok := cmd.Parameters[0].(string)
	return s, ok
}

// MapEvent is an event object placed on a map.
type MapEvent struct {
	ID    int          `json:"id"`
	Name  string       `json:"name"`
	Note  string       `json:"note"`
	X     int          `json:"x"`
	Y     int          `json:"y"`
	Pages []*EventPage `json:"pages"`
	// Meta is the parsed note (<key:value> tags), filled in at load.
	Meta map[string]string `json:"-"`
}

// MapData represents an RMMV Map*.json file.
type MapData struct {
	ID          int         `json:"id"` // set after load from filename
	DisplayName string      `json:"displayName"`
	Note        string      `json:"note"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Data        []int       `json:"data"` // tileId array: [layer * height * width + y * width + x]
	TilesetID   int         `json:"tilesetId"`
	Events      []*MapEvent `json:"events"` // nil entries are possible (RMMV uses 1-based IDs)
}

// Event returns the event with the given ID, or nil.
func (md *MapData) Event(id int) *MapEvent {
	if md == nil || id <= 0 || id >= len(md.Events) {
		return nil
	}
	return md.Events[id]
}

type MapInfo struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	ParentID int    `json:"parentId"`
}

type CommonEvent struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Trigger  int             `json:"trigger"`
	SwitchID int             `json:"switchId"`
	List     []*EventCommand `json:"list"`
}

type Tileset struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Flags []int  `json:"flags"` // passability flags per tileId
}

// ---- ResourceLoader ----

// ResourceLoader reads and holds the RMMV data files the runtime needs.
type ResourceLoader struct {
	DataPath     string
	System       *SystemData
	Maps         map[int]*MapData
	MapInfos     []*MapInfo
	CommonEvents []*CommonEvent
	Tilesets     []*Tileset
	Passability  map[int]*PassabilityMap

	// RegionRestr holds region-based movement restriction config from
	// the YEP_RegionRestrictions plugin. Nil if plugin is not active.
	RegionRestr *RegionRestrictions

	// CPStarPassFix is true when the CP_Star_Passability_Fix plugin is active.
	CPStarPassFix bool

	// RegionPluginActive is set when plugins.js enables one of the region
	// trigger plugins; RegionSwitch is then its switchNumber (0 = ungated).
	RegionPluginActive bool
	RegionSwitch       int

	// Logger receives adapter diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// NewLoader creates a ResourceLoader for the given RMMV data directory.
func NewLoader(dataPath string) *ResourceLoader {
	return &ResourceLoader{
		DataPath:    dataPath,
		Maps:        make(map[int]*MapData),
		Passability: make(map[int]*PassabilityMap),
	}
}

// Load reads all RMMV data files and pre-computes derived data.
func (rl *ResourceLoader) Load() error {
	loaders := []func() error{
		rl.loadSystem,
		rl.loadMapInfos,
		rl.loadTilesets,
		rl.loadCommonEvents,
		rl.loadMaps,
	}
	for _, fn := range loaders {
		if err := fn(); err != nil {
			return err
		}
	}
	if err := rl.applyPluginAdapters(); err != nil {
		return err
	}
	rl.buildPassability()
	return nil
}

// CommonEvent returns the common event with the given ID, or nil.
func (rl *ResourceLoader) CommonEvent(id int) *CommonEvent {
	if id <= 0 || id >= len(rl.CommonEvents) {
		return nil
	}
	return rl.CommonEvents[id]
}

func (rl *ResourceLoader) logger() *zap.Logger {
	if rl.Logger == nil {
		return zap.NewNop()
	}
	return rl.Logger
}

func (rl *ResourceLoader) path(file string) string {
	return filepath.Join(rl.DataPath, file)
}

func loadJSONArray[T any](path string) ([]*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resource: read %s: %w", path, err)
	}
	var arr []*T
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("resource: parse %s: %w", path, err)
	}
	return arr, nil
}

func loadJSONObject[T any](path string, out *T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("resource: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("resource: parse %s: %w", path, err)
	}
	return nil
}

func (rl *ResourceLoader) loadSystem() error {
	rl.System = &SystemData{}
	return loadJSONObject(rl.path("System.json"), rl.System)
}

func (rl *ResourceLoader) loadMapInfos() error {
	var err error
	rl.MapInfos, err = loadJSONArray[MapInfo](rl.path("MapInfos.json"))
	return err
}

func (rl *ResourceLoader) loadTilesets() error {
	var err error
	rl.Tilesets, err = loadJSONArray[Tileset](rl.path("Tilesets.json"))
	return err
}

func (rl *ResourceLoader) loadCommonEvents() error {
	var err error
	rl.CommonEvents, err = loadJSONArray[CommonEvent](rl.path("CommonEvents.json"))
	return err
}

var mapFileRegex = regexp.MustCompile(`^Map(\d+)\.json$`)

func (rl *ResourceLoader) loadMaps() error {
	entries, err := os.ReadDir(rl.DataPath)
	if err != nil {
		return fmt.Errorf("resource: readdir %s: %w", rl.DataPath, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := mapFileRegex.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		mapID, err := strconv.Atoi(m[1])
		if err != nil || mapID <= 0 {
			continue
		}

		md := &MapData{}
		if err := loadJSONObject(filepath.Join(rl.DataPath, e.Name()), md); err != nil {
			return err
		}
		md.ID = mapID
		for _, ev := range md.Events {
			if ev != nil {
				ev.Meta = ParseMeta(ev.Note)
			}
		}
		rl.Maps[mapID] = md
	}
	return nil
}
