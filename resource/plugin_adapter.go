package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ---- Plugin Detection ----

// PluginEntry represents one entry from RMMV's plugins.js.
type PluginEntry struct {
	Name       string            `json:"name"`
	Status     bool              `json:"status"`
	Parameters map[string]string `json:"parameters"`
}

// loadPlugins reads the game's js/plugins.js and returns its entries.
// The file format is: var $plugins = [ {...}, {...}, ... ];
func loadPlugins(dataPath string) ([]*PluginEntry, error) {
	// plugins.js lives in the sibling js/ directory (dataPath is www/data/).
	jsPath := filepath.Join(filepath.Dir(dataPath), "js", "plugins.js")
	data, err := os.ReadFile(jsPath)
	if err != nil {
		return nil, nil
	}

	content := strings.TrimSpace(string(data))
	idx := strings.Index(content, "[")
	if idx < 0 {
		return nil, nil
	}
	content = strings.TrimRight(content[idx:], "; \t\r\n")

	var entries []*PluginEntry
	if err := json.Unmarshal([]byte(content), &entries); err != nil {
		return nil, fmt.Errorf("resource: parse plugins.js: %w", err)
	}
	return entries, nil
}

// ---- Plugin Adapter Interface ----

// PluginAdapter transforms loaded resource data to apply plugin-specific behavior.
type PluginAdapter interface {
	// Name returns the RMMV plugin name this adapter handles.
	Name() string
	// Apply transforms the loaded data. Called after all maps are loaded.
	Apply(rl *ResourceLoader, params map[string]string, logger *zap.Logger) error
}

var knownAdapters = []PluginAdapter{
	&regionCommonEventAdapter{},
	&regionCommentEventAdapter{},
	&regionRestrictionsAdapter{},
	&cpStarPassFixAdapter{},
}

// applyPluginAdapters detects active plugins and runs matching adapters.
func (rl *ResourceLoader) applyPluginAdapters() error {
	plugins, err := loadPlugins(rl.DataPath)
	if err != nil {
		return err
	}

	active := make(map[string]map[string]string)
	for _, p := range plugins {
		if p != nil && p.Status {
			active[p.Name] = p.Parameters
		}
	}

	logger := rl.logger()
	for _, adapter := range knownAdapters {
		params, ok := active[adapter.Name()]
		if !ok {
			continue
		}
		if err := adapter.Apply(rl, params, logger.With(zap.String("plugin", adapter.Name()))); err != nil {
			return fmt.Errorf("resource: plugin adapter %s: %w", adapter.Name(), err)
		}
	}
	return nil
}

// ---- EventRegionCommonEvent Adapter ----

// ErrInvalidSwitchNumber is returned by Load when EventRegionCommonEvent is
// active with a switchNumber that is not an integer.
var ErrInvalidSwitchNumber = errors.New("EventRegionCommonEvent requires a valid switch number")

// regionCommonEventAdapter reads the enable switch of the region trigger.
type regionCommonEventAdapter struct{}

func (a *regionCommonEventAdapter) Name() string { return "EventRegionCommonEvent" }

func (a *regionCommonEventAdapter) Apply(rl *ResourceLoader, params map[string]string, logger *zap.Logger) error {
	raw := strings.TrimSpace(params["switchNumber"])
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSwitchNumber, raw)
	}
	rl.RegionPluginActive = true
	rl.RegionSwitch = n
	logger.Info("region trigger enabled", zap.Int("switch", n))
	return nil
}

// regionCommentEventAdapter handles the earlier, ungated variant of the
// plugin: common-event bindings only, no enable switch.
type regionCommentEventAdapter struct{}

func (a *regionCommentEventAdapter) Name() string { return "EventRegionCommentEvent" }

func (a *regionCommentEventAdapter) Apply(rl *ResourceLoader, _ map[string]string, logger *zap.Logger) error {
	if rl.RegionPluginActive {
		return nil
	}
	rl.RegionPluginActive = true
	rl.RegionSwitch = 0
	logger.Info("region trigger enabled without switch gate")
	return nil
}

// ---- YEP_RegionRestrictions Adapter ----

type regionRestrictionsAdapter struct{}

func (a *regionRestrictionsAdapter) Name() string { return "YEP_RegionRestrictions" }

func (a *regionRestrictionsAdapter) Apply(rl *ResourceLoader, params map[string]string, logger *zap.Logger) error {
	rr := &RegionRestrictions{
		EventRestrict: parseIntList(params["Event Restrict"]),
		AllRestrict:   parseIntList(params["All Restrict"]),
		EventAllow:    parseIntList(params["Event Allow"]),
		AllAllow:      parseIntList(params["All Allow"]),
	}
	rl.RegionRestr = rr
	logger.Info("region restrictions loaded",
		zap.Ints("event_restrict", rr.EventRestrict),
		zap.Ints("all_restrict", rr.AllRestrict),
		zap.Ints("event_allow", rr.EventAllow),
		zap.Ints("all_allow", rr.AllAllow))
	return nil
}

// parseIntList splits a space-separated string of positive ints.
func parseIntList(s string) []int {
	var result []int
	for _, part := range strings.Fields(s) {
		n, err := strconv.Atoi(part)
		if err == nil && n > 0 {
			result = append(result, n)
		}
	}
	return result
}

// ---- CP_Star_Passability_Fix Adapter ----

type cpStarPassFixAdapter struct{}

func (a *cpStarPassFixAdapter) Name() string { return "CP_Star_Passability_Fix" }

func (a *cpStarPassFixAdapter) Apply(rl *ResourceLoader, _ map[string]string, logger *zap.Logger) error {
	rl.CPStarPassFix = true
	logger.Info("star tiles can block passage")
	return nil
}
