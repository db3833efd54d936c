package router

import (
	"fmt"
	"strings"
)

// Match is the result of a successful route lookup.
type Match[T any] struct {
	Handler T
	Params  map[string]string
	Pattern string
}

// methodIndex holds the two disjoint stores for one HTTP method:
// a literal-path map for static routes and a radix tree for dynamic ones.
type methodIndex[T any] struct {
	static map[string]staticEntry[T]
	tree   *node[T]
}

type staticEntry[T any] struct {
	handler  T
	pattern  string
	priority int
}

// Router maps (method, path) to handlers. Static routes resolve in O(1);
// dynamic routes walk a radix tree with exact > parameter > wildcard
// precedence. Registration is not safe concurrently with matching: the
// router is built at startup or for a configuration swap, then published
// atomically by the caller and treated as immutable.
type Router[T any] struct {
	methods map[string]*methodIndex[T]
}

// New creates an empty router.
func New[T any]() *Router[T] {
	return &Router[T]{
		methods: make(map[string]*methodIndex[T]),
	}
}

// isStatic reports whether a pattern has no parameters and no wildcard.
func isStatic(pattern string) bool {
	return !strings.ContainsAny(pattern, ":*")
}

// Register adds a route. Patterns use literal segments, :name parameters,
// and a single trailing * wildcard. Duplicate (method, pattern) pairs are
// rejected.
func (rt *Router[T]) Register(method, pattern string, handler T, priority int) error {
	method = strings.ToUpper(method)
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}

	idx, ok := rt.methods[method]
	if !ok {
		idx = &methodIndex[T]{
			static: make(map[string]staticEntry[T]),
			tree:   &node[T]{},
		}
		rt.methods[method] = idx
	}

	if isStatic(pattern) {
		key := normalize(pattern)
		if _, exists := idx.static[key]; exists {
			return fmt.Errorf("route %s %s already registered", method, pattern)
		}
		idx.static[key] = staticEntry[T]{handler: handler, pattern: pattern, priority: priority}
		return nil
	}

	segments := splitPath(pattern)
	for i, seg := range segments {
		if seg == "*" && i != len(segments)-1 {
			return fmt.Errorf("route %s %s: wildcard must be the trailing segment", method, pattern)
		}
	}
	if !idx.tree.insert(segments, handler, priority) {
		return fmt.Errorf("route %s %s already registered", method, pattern)
	}
	return nil
}

// Lookup resolves a path for a method. Static routes win over dynamic ones.
// Matching is deterministic and free of side effects.
func (rt *Router[T]) Lookup(method, path string) (Match[T], bool) {
	idx, ok := rt.methods[strings.ToUpper(method)]
	if !ok {
		return Match[T]{}, false
	}

	if e, ok := idx.static[normalize(path)]; ok {
		return Match[T]{Handler: e.handler, Params: map[string]string{}, Pattern: e.pattern}, true
	}

	params := make(map[string]string, 4)
	terminal, ok := idx.tree.match(splitPath(path), params)
	if !ok {
		return Match[T]{}, false
	}
	return Match[T]{Handler: terminal.handler, Params: params}, true
}

// Len returns the number of registered routes.
func (rt *Router[T]) Len() int {
	total := 0
	for _, idx := range rt.methods {
		total += len(idx.static)
		total += countHandlers(idx.tree)
	}
	return total
}

func countHandlers[T any](n *node[T]) int {
	count := 0
	if n.hasHandler {
		count++
	}
	for _, c := range n.children {
		count += countHandlers(c)
	}
	if n.param != nil {
		count += countHandlers(n.param)
	}
	if n.wildcard != nil {
		count += countHandlers(n.wildcard)
	}
	return count
}

// splitPath splits a URL path into non-empty segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// normalize collapses the trailing slash so /a/ and /a are the same static key.
func normalize(path string) string {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return path
}
