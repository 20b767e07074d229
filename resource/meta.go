package resource

import "regexp"

var metaRegex = regexp.MustCompile(`<([^<>:]+)(:?)([^>]*)>`)

// ParseMeta extracts note tags the way DataManager.extractMetadata does:
// <key:value> sets meta[key]=value and a bare <key> sets meta[key]="true".
// Later tags overwrite earlier ones.
func ParseMeta(note string) map[string]string {
	meta := make(map[string]string)
	for _, m := range metaRegex.FindAllStringSubmatch(note, -1) {
		if m[2] == ":" {
			meta[m[1]] = m[3]
		} else {
			meta[m[1]] = "true"
		}
	}
	return meta
}
