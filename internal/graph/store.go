package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrDuplicateEdge is returned by AddEdge when an edge with the same
	// (src, dst, type) already exists. Idempotent callers use PutEdge.
	ErrDuplicateEdge = errors.New("edge already exists")

	// ErrDanglingEdge is returned when src or dst does not reference an
	// existing node. Dangling edges are an error, not silently dropped.
	ErrDanglingEdge = errors.New("edge references missing node")

	// ErrUnknownEdgeType is returned when an edge-type filter names a
	// type outside the recognized catalog. Matching nothing silently is
	// the historical bug this guards against.
	ErrUnknownEdgeType = errors.New("unrecognized edge type")

	// ErrInvalidNode is returned for nodes with an empty ID or type.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidEdge is returned for edges with an empty endpoint or type.
	ErrInvalidEdge = errors.New("invalid edge")
)

// Store is the authoritative node/edge storage abstraction. It
// exclusively owns all graph state; plugins and query callers only
// read and append through this API.
//
// Mutation is safe under concurrent writers; reads may run concurrently
// with each other. GetNode returns (nil, nil) when the node does not
// exist - absence is not an error for callers expecting optionality.
type Store interface {
	// GetNode returns the node with the given ID, or nil if absent.
	GetNode(id string) (*Node, error)

	// AddNode upserts a node by ID. Re-adding an unchanged node is a
	// no-op; re-adding with new metadata replaces the stored copy. It
	// never creates a duplicate for an existing ID.
	AddNode(n Node) error

	// AddEdge inserts an edge, failing with ErrDuplicateEdge if the
	// (src, dst, type) triple already exists and ErrDanglingEdge if an
	// endpoint is missing.
	AddEdge(e Edge) error

	// PutEdge is the idempotent upsert enrichers use: re-running the
	// producing enricher must not create a duplicate edge.
	PutEdge(e Edge) error

	// OutgoingEdges returns edges leaving id, optionally filtered by
	// type. A nil filter means all types; a filter naming an
	// unrecognized type fails with ErrUnknownEdgeType.
	OutgoingEdges(id string, edgeTypes []string) ([]Edge, error)

	// IncomingEdges returns edges arriving at id, with the same filter
	// semantics as OutgoingEdges.
	IncomingEdges(id string, edgeTypes []string) ([]Edge, error)

	// FindByType returns IDs of nodes whose type matches the pattern.
	// A trailing '*' matches any suffix ("http:*").
	FindByType(pattern string) ([]string, error)

	// BFS walks outgoing edges of the given types from the start nodes
	// up to maxDepth and returns every reached ID (start nodes
	// included). A nil edgeTypes follows all edge types.
	BFS(startIDs []string, maxDepth int, edgeTypes []string) ([]string, error)

	// RegisterEdgeType extends the recognized edge-type catalog.
	RegisterEdgeType(edgeType string)

	// EdgeTypeKnown reports whether a type is in the recognized catalog.
	EdgeTypeKnown(edgeType string) bool

	// CountNodesByType returns node counts grouped by type. A non-nil
	// filter restricts the result; entries support the '*' wildcard.
	CountNodesByType(types []string) (map[string]int, error)

	// CountEdgesByType returns edge counts grouped by type.
	CountEdgesByType(types []string) (map[string]int, error)

	// NodeCount and EdgeCount report live totals.
	NodeCount() int
	EdgeCount() int

	// Clear resets the store to empty (recognized types are kept).
	Clear()
}

// EdgeKey returns the dedupe key for an edge triple.
func EdgeKey(src, dst, edgeType string) string {
	return src + "\x00" + dst + "\x00" + edgeType
}

// ValidateEdgeFilter checks every entry of a filter against the store's
// recognized catalog. Shared by backends so filter semantics cannot
// drift between them.
func ValidateEdgeFilter(s Store, edgeTypes []string) error {
	for _, et := range edgeTypes {
		if !s.EdgeTypeKnown(et) {
			return fmt.Errorf("%w: %q", ErrUnknownEdgeType, et)
		}
	}
	return nil
}

// MatchTypePattern reports whether a type string matches a pattern,
// where a trailing '*' matches any suffix.
func MatchTypePattern(pattern, typ string) bool {
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix := pattern[:n-1]
		return len(typ) >= len(prefix) && typ[:len(prefix)] == prefix
	}
	return pattern == typ
}
