package transform

import (
	"net/http"

	"github.com/relaymesh/gateway/internal/config"
)

// applyQueryOps mutates the request query string: add, remove, modify.
// Requests only; the rewritten query is re-encoded onto the URL.
func applyQueryOps(req *http.Request, ops *config.QueryOpsConfig) {
	q := req.URL.Query()

	for name, value := range ops.Add {
		if _, exists := q[name]; !exists {
			q.Set(name, value)
		}
	}
	for _, name := range ops.Remove {
		q.Del(name)
	}
	for name, value := range ops.Modify {
		if _, exists := q[name]; exists {
			q.Set(name, value)
		}
	}

	req.URL.RawQuery = q.Encode()
}
