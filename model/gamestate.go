package model

import "fmt"

// GameSwitch is a persisted global switch. Region bindings read the enable
// switch and page conditions from these rows after a restart.
type GameSwitch struct {
	SwitchID int  `gorm:"primaryKey" json:"switch_id"`
	Value    bool `json:"value"`
}

func (GameSwitch) TableName() string { return "game_switches" }

// Key identifies the row among pending writes.
func (s GameSwitch) Key() string { return fmt.Sprintf("sw:%d", s.SwitchID) }

// GameVariable is a persisted global variable.
type GameVariable struct {
	VariableID int `gorm:"primaryKey" json:"variable_id"`
	Value      int `json:"value"`
}

func (GameVariable) TableName() string { return "game_variables" }

func (v GameVariable) Key() string { return fmt.Sprintf("var:%d", v.VariableID) }

// GameSelfSwitch is one of the four self switches (A to D) of a map event.
type GameSelfSwitch struct {
	MapID   int    `gorm:"primaryKey" json:"map_id"`
	EventID int    `gorm:"primaryKey" json:"event_id"`
	Ch      string `gorm:"primaryKey;size:1" json:"ch"`
	Value   bool   `json:"value"`
}

func (GameSelfSwitch) TableName() string { return "game_self_switches" }

func (s GameSelfSwitch) Key() string {
	return fmt.Sprintf("ss:%d:%d:%s", s.MapID, s.EventID, s.Ch)
}
