// Package region implements region-triggered event behavior for map events:
// firing a common event the first time an event steps into a tagged area, and
// switching an event to a page whose leading comment names the area.
package region

import (
	"regexp"
	"strconv"
	"strings"
)

// MetaKey is the note meta tag that declares a common-event binding,
// e.g. <regionCommonEvent: 3, 12>.
const MetaKey = "regionCommonEvent"

// ConditionKey marks a page as reachable only through a region condition,
// e.g. <regionCondition: 1, 2, 3> as the page's first comment.
const ConditionKey = "regionCondition"

// CommentCode is the RMMV event command code for a comment line.
const CommentCode = 108

// Binding maps one region ID to one common event.
type Binding struct {
	Region        int
	CommonEventID int
}

// ParseBinding parses the value of a regionCommonEvent meta tag ("x, y").
// Anything other than exactly two integers yields ok=false.
func ParseBinding(meta string) (Binding, bool) {
	parts := strings.Split(meta, ",")
	if len(parts) != 2 {
		return Binding{}, false
	}
	regionID, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || regionID < 0 {
		return Binding{}, false
	}
	ceID, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || ceID <= 0 {
		return Binding{}, false
	}
	return Binding{Region: regionID, CommonEventID: ceID}, true
}

var conditionRegex = regexp.MustCompile(`<regionCondition:(.*)>`)
var digitsRegex = regexp.MustCompile(`\d+`)

// ParseCondition extracts the region IDs from a leading page comment.
// Returns ok=false when the comment has no usable regionCondition tag.
func ParseCondition(comment string) ([]int, bool) {
	m := conditionRegex.FindStringSubmatch(comment)
	if m == nil || m[1] == "" {
		return nil, false
	}
	raw := digitsRegex.FindAllString(m[1], -1)
	if len(raw) == 0 {
		return nil, false
	}
	ids := make([]int, 0, len(raw))
	for _, s := range raw {
		n, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	if len(ids) == 0 {
		return nil, false
	}
	return ids, true
}

// HasConditionTag reports whether a comment mentions regionCondition at all.
// Pages whose first command is such a comment are excluded from normal page
// selection, even when the tag itself is malformed.
func HasConditionTag(comment string) bool {
	return strings.Contains(comment, ConditionKey)
}

// Condition is a parsed regionCondition: the set of regions a page accepts.
type Condition []int

// Matches reports whether regionID is one of the accepted regions.
func (c Condition) Matches(regionID int) bool {
	for _, id := range c {
		if id == regionID {
			return true
		}
	}
	return false
}
