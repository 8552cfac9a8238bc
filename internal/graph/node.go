package graph

import (
	"sort"
	"time"

	"github.com/dhaniverse/contrag/internal/source"
)

// Provenance records when and from what an EntityNode was materialized.
type Provenance struct {
	// FetchedAt is the wall-clock time the instance data was read.
	FetchedAt time.Time

	// Timestamp is the instance's own event time, taken from the entity's
	// configured time-series field when one exists.
	Timestamp *time.Time
}

// EntityNode is one materialized entity instance in a built graph.
//
// The graph is fully materialized: Relationships holds already-resolved
// children only, up to the configured depth and fan-out bounds. The root
// node has Depth 0 and every child's Depth is its parent's plus one.
type EntityNode struct {
	EntityType string
	ID         string

	// Data is the flat field→value snapshot of the instance at fetch time.
	Data source.Record

	// Relationships maps target entity type → resolved child nodes.
	Relationships map[string][]*EntityNode

	// RelatedOrder lists Relationships keys in resolution order, so graph
	// serialization is deterministic without it depending on map order.
	RelatedOrder []string

	Depth      int
	Provenance Provenance
}

// Key returns the node's visited-set key, "<entityType>:<id>".
func (n *EntityNode) Key() string {
	return n.EntityType + ":" + n.ID
}

// addChildren appends resolved children under the given entity type,
// tracking first-seen order.
func (n *EntityNode) addChildren(entityType string, children []*EntityNode) {
	if len(children) == 0 {
		return
	}
	if _, seen := n.Relationships[entityType]; !seen {
		n.RelatedOrder = append(n.RelatedOrder, entityType)
	}
	n.Relationships[entityType] = append(n.Relationships[entityType], children...)
}

// RelatedEntityTypes returns the sorted set of entity type names appearing
// anywhere below this node.
func (n *EntityNode) RelatedEntityTypes() []string {
	set := make(map[string]bool)
	n.collectRelated(set)

	types := make([]string, 0, len(set))
	for t := range set {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (n *EntityNode) collectRelated(set map[string]bool) {
	for _, children := range n.Relationships {
		for _, child := range children {
			set[child.EntityType] = true
			child.collectRelated(set)
		}
	}
}
