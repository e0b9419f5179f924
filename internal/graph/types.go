// Package graph defines the Grafema property-graph data model and the
// Store contract every storage backend implements. Nodes carry stable
// semantic IDs; edges are directed (src, dst, type) triples. All layers
// (code, http, infra, observability) share one flat type space - the
// namespace prefix of a type string is documentation, not structure.
package graph

// Node represents any graph entity: a function, an HTTP route, a
// Kubernetes deployment, an unresolved-reference issue.
type Node struct {
	// ID is the globally unique semantic identifier. It must be stable
	// across re-analysis: re-running analysis on unchanged source must
	// produce the same ID, never a duplicate.
	ID string `json:"id"`

	// Type is a namespaced type string, e.g. "FUNCTION", "http:route",
	// "infra:k8s:deployment".
	Type string `json:"type"`

	Name string `json:"name"`
	File string `json:"file"`
	Line int    `json:"line"`

	// Metadata is an open, type-specific key/value map. ANALYSIS-phase
	// plugins also use it to forward-register unresolved references.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Edge is a directed relationship between two node IDs.
type Edge struct {
	Src  string `json:"src"`
	Dst  string `json:"dst"`
	Type string `json:"type"`

	// Metadata holds edge-specific data: argIndex, callId, linkedBy
	// provenance, confidence.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// FileBuiltin is the sentinel file value for synthetic/singleton nodes.
const FileBuiltin = "__builtin__"

// NetworkNodeID is the fixed ID of the singleton node representing the
// external network. Singleton IDs are parameter-free: re-creating the
// node is always an upsert of the same entity.
const NetworkNodeID = "net:request#__network__"

// NetworkNode returns the external-network singleton.
func NetworkNode() Node {
	return Node{
		ID:   NetworkNodeID,
		Type: "net:request",
		Name: "__network__",
		File: FileBuiltin,
		Line: 0,
	}
}

// Node type constants for types the core itself creates. Analyzer
// plugins add their own; the type space is flat and open.
const (
	TypeModule   = "MODULE"
	TypeFunction = "FUNCTION"
	TypeIssue    = "ISSUE"
	TypeService  = "SERVICE"
)

// Structural edge types.
const (
	EdgeContains     = "CONTAINS"
	EdgeDeclares     = "DECLARES"
	EdgeHasParameter = "HAS_PARAMETER"
	EdgeHasScope     = "HAS_SCOPE"
	EdgeImports      = "IMPORTS"
)

// Call edge types.
const (
	EdgeCalls            = "CALLS"
	EdgePassesArgument   = "PASSES_ARGUMENT"
	EdgeReceivesArgument = "RECEIVES_ARGUMENT"
)

// Data-flow edge types.
const (
	EdgeAssignedFrom = "ASSIGNED_FROM"
	EdgeFlowsInto    = "FLOWS_INTO"
)

// Cross-layer edge types.
const (
	EdgeDeployedTo  = "DEPLOYED_TO"
	EdgeMonitoredBy = "MONITORED_BY"
	EdgeRequests    = "REQUESTS"
	EdgeHandledBy   = "HANDLED_BY"
	EdgeAffects     = "AFFECTS"
)

// DefaultEdgeCatalog lists the edge types the core knows about. Stores
// seed their recognized-type set from this; plugins may register more
// via Store.RegisterEdgeType. An edge-type filter mentioning a type
// outside the recognized set is an error, never a silent no-match.
func DefaultEdgeCatalog() []string {
	return []string{
		EdgeContains, EdgeDeclares, EdgeHasParameter, EdgeHasScope, EdgeImports,
		EdgeCalls, EdgePassesArgument, EdgeReceivesArgument,
		EdgeAssignedFrom, EdgeFlowsInto,
		EdgeDeployedTo, EdgeMonitoredBy, EdgeRequests, EdgeHandledBy, EdgeAffects,
	}
}

// Direction selects which way edges are followed during traversal.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)
