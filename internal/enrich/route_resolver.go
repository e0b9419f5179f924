package enrich

import (
	"context"
	"fmt"
	"strings"

	"grafema/internal/graph"
	"grafema/internal/logging"
	"grafema/internal/pipeline"
)

// LinkKindHTTPRequest is the pending-link kind the route resolver
// consumes. TargetHint is the request URL or path; Metadata may carry
// "method".
const LinkKindHTTPRequest = "http-request"

// RouteResolver links outgoing HTTP requests to the http:route nodes
// that serve them, producing REQUESTS edges. Requests to absolute URLs
// that match no known route attach to the network boundary singleton
// instead of becoming issues: calling the outside world is normal.
type RouteResolver struct{}

func (RouteResolver) Metadata() pipeline.Metadata {
	return pipeline.Metadata{
		Name:         "route-resolver",
		Phase:        pipeline.PhaseEnrichment,
		Priority:     20,
		CreatesNodes: []string{graph.TypeIssue, "net:request"},
		CreatesEdges: []string{graph.EdgeRequests, graph.EdgeAffects},
	}
}

func (RouteResolver) Execute(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
	var out pipeline.Result

	links := pc.Pending.Take(LinkKindHTTPRequest)
	if len(links) == 0 {
		return out, nil
	}

	timer := logging.StartTimer(logging.CategoryEnrich, fmt.Sprintf("resolve %d http-request links", len(links)))
	defer timer.Stop()

	index, err := buildRouteIndex(pc.Store)
	if err != nil {
		return out, fmt.Errorf("build route index: %w", err)
	}

	cascade := NewCascade(pc.Store,
		ExplicitStrategy(pc.Store, pc.Config.MappingsFor(LinkKindHTTPRequest)),
		Strategy{
			Name:       "method-path",
			Confidence: ConfidenceConventional,
			Find:       func(l graph.PendingLink) []string { return index.exact(linkMethod(l), requestPath(l.TargetHint)) },
		},
		Strategy{
			Name:       "path-template",
			Confidence: 0.6,
			Find:       func(l graph.PendingLink) []string { return index.template(linkMethod(l), requestPath(l.TargetHint)) },
		},
	)

	networkLinked := false
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res := cascade.Resolve(sourceNode(pc.Store, link), link)

		if res.Failed() && isAbsoluteURL(link.TargetHint) {
			if !networkLinked {
				if err := pc.Store.AddNode(graph.NetworkNode()); err != nil {
					return out, fmt.Errorf("ensure network node: %w", err)
				}
				out.NodesCreated++
				networkLinked = true
			}
			meta := map[string]interface{}{
				"linkedBy": "route-resolver",
				"url":      link.TargetHint,
			}
			if m := linkMethod(link); m != "" {
				meta["method"] = m
			}
			if err := pc.Store.PutEdge(graph.Edge{
				Src:      link.SourceID,
				Dst:      graph.NetworkNodeID,
				Type:     graph.EdgeRequests,
				Metadata: meta,
			}); err != nil {
				return out, fmt.Errorf("link %s to network boundary: %w", link.SourceID, err)
			}
			out.EdgesCreated++
			continue
		}

		delta, err := applyResolution(pc.Store, link, res, edgeSpec{
			Type:     graph.EdgeRequests,
			LinkedBy: "route-resolver",
		}, index.suggestions(requestPath(link.TargetHint)))
		if err != nil {
			return out, err
		}
		out.Merge(delta)
	}
	return out, nil
}

func linkMethod(l graph.PendingLink) string {
	if m, ok := l.Metadata["method"].(string); ok {
		return strings.ToUpper(m)
	}
	return ""
}

// requestPath strips scheme and host from absolute URLs so internal
// routes still match ("https://api.internal/v1/users" -> "/v1/users").
func requestPath(hint string) string {
	if !isAbsoluteURL(hint) {
		return hint
	}
	rest := hint[strings.Index(hint, "://")+3:]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i:]
	}
	return "/"
}

func isAbsoluteURL(hint string) bool {
	return strings.HasPrefix(hint, "http://") || strings.HasPrefix(hint, "https://")
}

// routeIndex maps http:route nodes by method and path. Route nodes
// carry the method in metadata and the path in Name.
type routeIndex struct {
	byMethodPath map[string][]string
	routes       []routeEntry
}

type routeEntry struct {
	id     string
	method string
	path   string
}

func buildRouteIndex(store graph.Store) (*routeIndex, error) {
	ids, err := store.FindByType("http:route")
	if err != nil {
		return nil, err
	}

	idx := &routeIndex{byMethodPath: make(map[string][]string, len(ids))}
	for _, id := range ids {
		n, err := store.GetNode(id)
		if err != nil || n == nil {
			continue
		}
		method := ""
		if m, ok := n.Metadata["method"].(string); ok {
			method = strings.ToUpper(m)
		}
		entry := routeEntry{id: id, method: method, path: n.Name}
		idx.routes = append(idx.routes, entry)
		idx.byMethodPath[method+" "+entry.path] = append(idx.byMethodPath[method+" "+entry.path], id)
	}
	return idx, nil
}

func (idx *routeIndex) exact(method, path string) []string {
	if ids := idx.byMethodPath[method+" "+path]; len(ids) > 0 {
		return ids
	}
	if method != "" {
		// A routes table without per-method entries still matches.
		return idx.byMethodPath[" "+path]
	}
	return nil
}

// template matches parameterized route paths (":id" or "{id}"
// segments) against a concrete request path.
func (idx *routeIndex) template(method, path string) []string {
	want := strings.Split(strings.Trim(path, "/"), "/")
	var ids []string
	for _, r := range idx.routes {
		if r.method != "" && method != "" && r.method != method {
			continue
		}
		if templateMatch(strings.Split(strings.Trim(r.path, "/"), "/"), want) {
			ids = append(ids, r.id)
		}
	}
	return ids
}

func templateMatch(pattern, concrete []string) bool {
	if len(pattern) != len(concrete) {
		return false
	}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") || (strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")) {
			continue
		}
		if seg != concrete[i] {
			return false
		}
	}
	return true
}

func (idx *routeIndex) suggestions(path string) []string {
	var out []string
	for _, r := range idx.routes {
		if strings.Contains(r.path, path) || strings.Contains(path, r.path) {
			out = append(out, r.path)
			if len(out) == 3 {
				break
			}
		}
	}
	return out
}
