package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a region replay described in YAML.
type Scenario struct {
	// EnableSwitch gates common-event bindings; 0 means always on.
	EnableSwitch int `yaml:"enable_switch"`
	// Switches lists the switch IDs that start ON.
	Switches []int `yaml:"switches"`
	// Grid rows hold the region ID of every tile, separated by spaces or
	// commas. Row 0 is the top of the map.
	Grid   []string `yaml:"grid"`
	Agents []Agent  `yaml:"agents"`
}

// Agent is one map event walking a path.
type Agent struct {
	Name  string `yaml:"name"`
	Note  string `yaml:"note"`
	Start [2]int `yaml:"start"`
	Pages []Page `yaml:"pages"`
	Path  []Step `yaml:"path"`
}

// Page is an event page reduced to what region switching looks at.
type Page struct {
	// Comment is the page's leading comment, if any.
	Comment string `yaml:"comment"`
	// Switch, when non-zero, must be ON for the page to be eligible.
	Switch int `yaml:"switch"`
}

// Step is one path entry. Switch changes apply before the move, and every
// agent's entry for a step applies before any agent is sampled.
type Step struct {
	Move string `yaml:"move"`
	On   int    `yaml:"on"`
	Off  int    `yaml:"off"`
}

var moveDirs = map[string][2]int{
	"up":    {0, -1},
	"down":  {0, 1},
	"left":  {-1, 0},
	"right": {1, 0},
	"wait":  {0, 0},
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("regionsim: read %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("regionsim: decode: %w", err)
	}
	if len(sc.Grid) == 0 {
		return nil, fmt.Errorf("regionsim: grid is empty")
	}
	if _, err := sc.Regions(); err != nil {
		return nil, err
	}
	for i, a := range sc.Agents {
		if a.Name == "" {
			sc.Agents[i].Name = fmt.Sprintf("EV%03d", i+1)
		}
		for j, st := range a.Path {
			if st.Move == "" {
				continue
			}
			if _, ok := moveDirs[strings.ToLower(st.Move)]; !ok {
				return nil, fmt.Errorf("regionsim: agent %s step %d: unknown move %q", sc.Agents[i].Name, j+1, st.Move)
			}
		}
	}
	return &sc, nil
}

// Regions parses Grid into rows of region IDs. Rows may differ in length;
// missing tiles read as region 0.
func (sc *Scenario) Regions() ([][]int, error) {
	rows := make([][]int, 0, len(sc.Grid))
	for y, line := range sc.Grid {
		fields := strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
		row := make([]int, 0, len(fields))
		for x, f := range fields {
			n, err := strconv.Atoi(f)
			if err != nil || n < 0 || n > 255 {
				return nil, fmt.Errorf("regionsim: grid (%d,%d): bad region %q", x, y, f)
			}
			row = append(row, n)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
