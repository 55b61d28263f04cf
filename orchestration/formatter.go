package orchestration

import (
	"fmt"
	"sort"
	"strings"
)

// maxRecordLineLen bounds one rendered record line in generic lists
const maxRecordLineLen = 120

// FormatDetails converts structured step output into readable text.
// Recognized shapes get dedicated rendering; everything else falls back
// to a generic form.
func FormatDetails(details interface{}) string {
	switch v := details.(type) {
	case string:
		return v
	case []interface{}:
		return formatList(v)
	case map[string]interface{}:
		return formatRecord(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatList(items []interface{}) string {
	if len(items) == 0 {
		return ""
	}
	if groups, ok := asDuplicateGroups(items); ok {
		return formatDuplicateGroups(groups)
	}
	if _, ok := items[0].(map[string]interface{}); ok {
		lines := make([]string, 0, len(items))
		for _, item := range items {
			record, ok := item.(map[string]interface{})
			if !ok {
				lines = append(lines, renderValue(item))
				continue
			}
			lines = append(lines, formatRecord(record))
		}
		return strings.Join(lines, "\n")
	}
	// Scalar list: one bullet per element
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+renderValue(item))
	}
	return strings.Join(lines, "\n")
}

// formatRecord renders one object as "k: v" pairs with sorted keys,
// truncated to keep reply lines scannable
func formatRecord(record map[string]interface{}) string {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, renderValue(record[k])))
	}
	line := strings.Join(parts, ", ")
	if len(line) > maxRecordLineLen {
		line = line[:maxRecordLineLen-3] + "..."
	}
	return line
}

// duplicateGroup is the recognized shape for duplicate-file listings
type duplicateGroup struct {
	files []string
	size  float64
	count int
}

func asDuplicateGroups(items []interface{}) ([]duplicateGroup, bool) {
	groups := make([]duplicateGroup, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]interface{})
		if !ok {
			return nil, false
		}
		files, ok := record["files"].([]interface{})
		if !ok {
			return nil, false
		}
		size, ok := toFloat(record["size"])
		if !ok {
			return nil, false
		}
		count, ok := toFloat(record["count"])
		if !ok {
			return nil, false
		}
		g := duplicateGroup{size: size, count: int(count)}
		for _, f := range files {
			switch file := f.(type) {
			case map[string]interface{}:
				if name, ok := file["name"].(string); ok {
					g.files = append(g.files, name)
				}
			case string:
				g.files = append(g.files, file)
			}
		}
		groups = append(groups, g)
	}
	return groups, true
}

func formatDuplicateGroups(groups []duplicateGroup) string {
	var b strings.Builder
	for i, g := range groups {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Group %d (%d copies, ~%s each):\n", i+1, g.count, HumanSize(g.size))
		for _, name := range g.files {
			fmt.Fprintf(&b, "  - %s\n", name)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// HumanSize renders a byte count with binary prefixes
func HumanSize(bytes float64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%.0f B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.2f KB", bytes/1024)
	default:
		return fmt.Sprintf("%.2f MB", bytes/(1024*1024))
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	}
	return 0, false
}
