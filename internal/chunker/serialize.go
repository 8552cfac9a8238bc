package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dhaniverse/contrag/internal/graph"
)

// Serialize renders a materialized entity graph into its canonical text
// form: a header, one "<field>: <value>" line per field in sorted order,
// then one labeled block per related instance, recursively, in resolution
// order.
func (c *Chunker) Serialize(node *graph.EntityNode) string {
	var sb strings.Builder
	c.writeNode(&sb, node)
	return sb.String()
}

// SerializeMulti joins several root graphs into one context, separated by
// explicit entity markers.
func (c *Chunker) SerializeMulti(nodes []*graph.EntityNode) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = c.Serialize(n)
	}
	return strings.Join(parts, "\n\n=== Next Entity ===\n\n")
}

func (c *Chunker) writeNode(sb *strings.Builder, node *graph.EntityNode) {
	sb.WriteString("Entity: ")
	sb.WriteString(node.EntityType)
	sb.WriteString("\nID: ")
	sb.WriteString(node.ID)
	sb.WriteString("\n---\n")

	for _, entry := range flattenRecord(node.Data) {
		if c.cfg.IncludeFieldNames {
			sb.WriteString(entry.key)
			sb.WriteString(": ")
		}
		sb.WriteString(entry.value)
		sb.WriteByte('\n')
	}

	for _, entityType := range node.RelatedOrder {
		for _, child := range node.Relationships[entityType] {
			sb.WriteString("\n=== Relationship: ")
			sb.WriteString(entityType)
			sb.WriteString(" ===\n")
			c.writeNode(sb, child)
		}
	}
}

type fieldEntry struct {
	key   string
	value string
}

// flattenRecord converts a record into sorted key/value text lines.
// Nested objects flatten with dot notation ("profile.age"); arrays of
// scalars join with ", ".
func flattenRecord(rec map[string]any) []fieldEntry {
	var entries []fieldEntry
	flattenInto(&entries, "", rec)
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	return entries
}

func flattenInto(entries *[]fieldEntry, prefix string, rec map[string]any) {
	for key, value := range rec {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]any:
			flattenInto(entries, name, v)
		case []any:
			items := make([]string, len(v))
			for i, el := range v {
				items[i] = scalarString(el)
			}
			*entries = append(*entries, fieldEntry{name, strings.Join(items, ", ")})
		default:
			*entries = append(*entries, fieldEntry{name, scalarString(value)})
		}
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(v)
	}
}

// Sanitize collapses all runs of whitespace in text to single spaces,
// preparing it for embedding.
func Sanitize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Truncate shortens text to at most maxLen characters, appending an
// ellipsis when anything was cut.
func Truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
