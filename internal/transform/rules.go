package transform

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/relaymesh/gateway/internal/config"
)

// Rule is one compiled transformation rule. Rules are immutable after
// construction; the outcome of every Apply call depends only on its inputs.
type Rule struct {
	name     string
	priority int
	routes   []string // doublestar patterns; empty = all routes

	cond compiledCondition

	statusMap map[int]int

	headers *headerOps
	cors    *config.CORSConfig
	query   *config.QueryOpsConfig
	path    []pathRewrite
	body    *config.BodyOpsConfig

	errorTemplates map[int]config.ErrorTemplateConfig
}

type compiledCondition struct {
	method      string
	pathPrefix  string
	headers     map[string]string
	query       map[string]string
	statusCodes map[int]bool
	contentType string // doublestar pattern
}

type pathRewrite struct {
	pattern     *regexp.Regexp
	replacement string
}

// Engine applies all matching rules in descending priority order.
type Engine struct {
	rules []*Rule
}

// NewEngine compiles the configured rule set.
func NewEngine(cfg config.TransformConfig) (*Engine, error) {
	rules := make([]*Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		r, err := compileRule(rc)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	// Stable: equal priorities keep config order.
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].priority > rules[j].priority
	})
	return &Engine{rules: rules}, nil
}

func compileRule(rc config.TransformRuleConfig) (*Rule, error) {
	r := &Rule{
		name:           rc.Name,
		priority:       rc.Priority,
		routes:         rc.Routes,
		statusMap:      rc.StatusMap,
		cors:           rc.CORS,
		query:          rc.Query,
		body:           rc.Body,
		errorTemplates: rc.ErrorTemplates,
		cond: compiledCondition{
			method:      strings.ToUpper(rc.Conditions.Method),
			pathPrefix:  rc.Conditions.PathPrefix,
			headers:     rc.Conditions.Headers,
			query:       rc.Conditions.Query,
			contentType: rc.Conditions.ContentType,
		},
	}

	if len(rc.Conditions.StatusCodes) > 0 {
		r.cond.statusCodes = make(map[int]bool, len(rc.Conditions.StatusCodes))
		for _, s := range rc.Conditions.StatusCodes {
			r.cond.statusCodes[s] = true
		}
	}

	if rc.Headers != nil {
		ops, err := compileHeaderOps(rc.Headers)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rc.Name, err)
		}
		r.headers = ops
	}

	for _, p := range rc.Path {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: path pattern %q: %w", rc.Name, p.Pattern, err)
		}
		r.path = append(r.path, pathRewrite{pattern: re, replacement: p.Replacement})
	}

	return r, nil
}

// matchesRoute checks the optional route-pattern set against the request path.
func (r *Rule) matchesRoute(path string) bool {
	if len(r.routes) == 0 {
		return true
	}
	for _, pat := range r.routes {
		if ok, _ := doublestar.Match(pat, path); ok {
			return true
		}
	}
	return false
}

// matchesRequest evaluates request-side conditions.
func (r *Rule) matchesRequest(req *http.Request) bool {
	c := &r.cond
	if c.method != "" && c.method != req.Method {
		return false
	}
	if c.pathPrefix != "" && !strings.HasPrefix(req.URL.Path, c.pathPrefix) {
		return false
	}
	for name, want := range c.headers {
		if req.Header.Get(name) != want {
			return false
		}
	}
	if len(c.query) > 0 {
		q := req.URL.Query()
		for name, want := range c.query {
			if q.Get(name) != want {
				return false
			}
		}
	}
	return true
}

// matchesResponse evaluates response-side conditions on top of the
// request-side ones.
func (r *Rule) matchesResponse(req *http.Request, status int, headers http.Header) bool {
	if !r.matchesRequest(req) {
		return false
	}
	c := &r.cond
	if c.statusCodes != nil && !c.statusCodes[status] {
		return false
	}
	if c.contentType != "" {
		ct := headers.Get("Content-Type")
		if idx := strings.IndexByte(ct, ';'); idx != -1 {
			ct = strings.TrimSpace(ct[:idx])
		}
		if ok, _ := doublestar.Match(c.contentType, ct); !ok {
			return false
		}
	}
	return true
}

// RequestResult carries mutations the caller must adopt.
type RequestResult struct {
	Body        []byte
	PathChanged bool
}

// ApplyRequest runs all matching rules against the request. Headers and the
// URL are mutated in place; the possibly rewritten body is returned. Within
// a rule the operation order is fixed: headers, query parameters, path
// rewrites, body.
func (e *Engine) ApplyRequest(req *http.Request, body []byte) RequestResult {
	res := RequestResult{Body: body}
	for _, r := range e.rules {
		if !r.matchesRoute(req.URL.Path) || !r.matchesRequest(req) {
			continue
		}
		if r.headers != nil {
			r.headers.apply(req.Header)
		}
		if r.query != nil {
			applyQueryOps(req, r.query)
		}
		if len(r.path) > 0 {
			for _, pr := range r.path {
				rewritten := pr.pattern.ReplaceAllString(req.URL.Path, pr.replacement)
				if rewritten != req.URL.Path {
					req.URL.Path = rewritten
					res.PathChanged = true
				}
			}
		}
		if r.body != nil {
			res.Body = applyBodyOps(res.Body, req.Header.Get("Content-Type"), r.body)
		}
	}
	return res
}

// ResponseResult carries response mutations the caller must adopt.
type ResponseResult struct {
	Status int
	Body   []byte
}

// ApplyResponse runs all matching rules against a buffered response.
// Within a rule the operation order is fixed: status remap, headers, CORS,
// error template, body.
func (e *Engine) ApplyResponse(req *http.Request, status int, headers http.Header, body []byte) ResponseResult {
	res := ResponseResult{Status: status, Body: body}
	for _, r := range e.rules {
		if !r.matchesRoute(req.URL.Path) || !r.matchesResponse(req, res.Status, headers) {
			continue
		}
		if r.statusMap != nil {
			if mapped, ok := r.statusMap[res.Status]; ok {
				res.Status = mapped
			}
		}
		if r.headers != nil {
			r.headers.apply(headers)
		}
		if r.cors != nil {
			applyCORS(headers, r.cors)
		}
		if res.Status >= 400 && r.errorTemplates != nil {
			if tmpl, ok := r.errorTemplates[res.Status]; ok {
				res.Body = []byte(tmpl.Body)
				for k, v := range tmpl.Headers {
					headers.Set(k, v)
				}
			}
		}
		if r.body != nil {
			res.Body = applyBodyOps(res.Body, headers.Get("Content-Type"), r.body)
		}
	}
	return res
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int { return len(e.rules) }
