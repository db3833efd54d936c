package cache

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// GenerateKey builds the cache key: a stable hex digest over method, path,
// and the ordered (vary-header-name, value) pairs from the request.
func GenerateKey(method, path string, varyHeaders []string, h http.Header) string {
	hash := md5.New()
	io.WriteString(hash, method)
	hash.Write([]byte{'|'})
	io.WriteString(hash, path)

	if len(varyHeaders) > 0 {
		names := make([]string, len(varyHeaders))
		copy(names, varyHeaders)
		sort.Strings(names)
		for _, name := range names {
			val := h.Get(name)
			if val == "" {
				continue
			}
			hash.Write([]byte{'|'})
			io.WriteString(hash, strings.ToLower(name))
			hash.Write([]byte{'='})
			io.WriteString(hash, val)
		}
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// Cacheable reports whether a response may be stored: GET/HEAD, status 200,
// and no Cache-Control directive forbidding shared caching.
func Cacheable(method string, status int, headers http.Header) bool {
	if method != http.MethodGet && method != http.MethodHead {
		return false
	}
	if status != http.StatusOK {
		return false
	}
	cc := strings.ToLower(headers.Get("Cache-Control"))
	if strings.Contains(cc, "no-store") ||
		strings.Contains(cc, "no-cache") ||
		strings.Contains(cc, "private") {
		return false
	}
	return true
}

// DeriveTTL resolves the entry lifetime: s-maxage wins over max-age wins
// over the default.
func DeriveTTL(headers http.Header, defaultTTL time.Duration) time.Duration {
	cc := headers.Get("Cache-Control")
	if v, ok := directiveSeconds(cc, "s-maxage"); ok {
		return v
	}
	if v, ok := directiveSeconds(cc, "max-age"); ok {
		return v
	}
	return defaultTTL
}

// directiveSeconds extracts a seconds-valued directive from Cache-Control.
func directiveSeconds(cc, name string) (time.Duration, bool) {
	for _, part := range strings.Split(cc, ",") {
		part = strings.TrimSpace(part)
		if rest, ok := strings.CutPrefix(part, name+"="); ok {
			secs, err := strconv.Atoi(strings.Trim(rest, `"`))
			if err != nil || secs < 0 {
				return 0, false
			}
			return time.Duration(secs) * time.Second, true
		}
	}
	return 0, false
}
