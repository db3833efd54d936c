package transform

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/relaymesh/gateway/internal/config"
)

// headerOps is a compiled header mutation set. Header name comparison is
// case-insensitive throughout (http.Header canonicalizes on access).
type headerOps struct {
	add      map[string]string
	remove   []string // exact names
	removeRe []string // lowercase prefixes from trailing-* patterns
	rename   map[string]string
	modify   map[string]compiledModify
}

type compiledModify struct {
	re      *regexp.Regexp // nil means literal replacement
	replace string
}

func compileHeaderOps(cfg *config.HeaderOpsConfig) (*headerOps, error) {
	ops := &headerOps{
		add:    cfg.Add,
		rename: cfg.Rename,
	}

	for _, name := range cfg.Remove {
		if prefix, ok := strings.CutSuffix(name, "*"); ok {
			ops.removeRe = append(ops.removeRe, strings.ToLower(prefix))
		} else {
			ops.remove = append(ops.remove, name)
		}
	}

	if len(cfg.Modify) > 0 {
		ops.modify = make(map[string]compiledModify, len(cfg.Modify))
		for name, m := range cfg.Modify {
			cm := compiledModify{replace: m.Replace}
			if m.Match != "" {
				re, err := regexp.Compile(m.Match)
				if err != nil {
					return nil, err
				}
				cm.re = re
			}
			ops.modify[name] = cm
		}
	}
	return ops, nil
}

// apply mutates headers in the fixed order: add, remove, rename, modify.
func (ops *headerOps) apply(h http.Header) {
	for name, value := range ops.add {
		h.Add(name, value)
	}

	for _, name := range ops.remove {
		h.Del(name)
	}
	if len(ops.removeRe) > 0 {
		for name := range h {
			lower := strings.ToLower(name)
			for _, prefix := range ops.removeRe {
				if strings.HasPrefix(lower, prefix) {
					h.Del(name)
					break
				}
			}
		}
	}

	for from, to := range ops.rename {
		if values := h.Values(from); len(values) > 0 {
			copied := make([]string, len(values))
			copy(copied, values)
			h.Del(from)
			for _, v := range copied {
				h.Add(to, v)
			}
		}
	}

	for name, m := range ops.modify {
		values := h.Values(name)
		if len(values) == 0 {
			continue
		}
		rewritten := make([]string, len(values))
		for i, v := range values {
			if m.re != nil {
				rewritten[i] = m.re.ReplaceAllString(v, m.replace)
			} else {
				rewritten[i] = m.replace
			}
		}
		h.Del(name)
		for _, v := range rewritten {
			h.Add(name, v)
		}
	}
}
