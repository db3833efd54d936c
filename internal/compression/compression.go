package compression

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/andybalholm/brotli"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/relaymesh/gateway/internal/config"
)

// Supported algorithm names as they appear in Accept-Encoding.
const (
	AlgoGzip    = "gzip"
	AlgoBrotli  = "br"
	AlgoDeflate = "deflate"
)

// defaultAlgoOrder is the server-preferred algorithm order.
var defaultAlgoOrder = []string{AlgoBrotli, AlgoGzip, AlgoDeflate}

// defaultContentTypes compress when no glob patterns are configured.
var defaultContentTypes = []string{
	"text/*",
	"application/json",
	"application/javascript",
	"application/xml",
	"image/svg+xml",
}

// AlgorithmStats tracks per-algorithm compression counters.
type AlgorithmStats struct {
	BytesIn  atomic.Int64
	BytesOut atomic.Int64
	Count    atomic.Int64
}

// AlgorithmSnapshot is the JSON-serializable form of AlgorithmStats.
type AlgorithmSnapshot struct {
	BytesIn  int64 `json:"bytes_in"`
	BytesOut int64 `json:"bytes_out"`
	Count    int64 `json:"count"`
}

// encodingPref represents a parsed Accept-Encoding entry.
type encodingPref struct {
	encoding string
	quality  float64
}

// Compressor negotiates and applies response compression on full buffers.
type Compressor struct {
	enabled      bool
	level        int
	minSize      int
	algoOrder    []string
	contentTypes []string
	stats        map[string]*AlgorithmStats
}

// New creates a Compressor from config.
func New(cfg config.CompressionConfig) *Compressor {
	c := &Compressor{
		enabled: cfg.Enabled,
		level:   cfg.Level,
		minSize: cfg.MinSize,
		stats:   make(map[string]*AlgorithmStats),
	}
	if c.level <= 0 || c.level > 11 {
		c.level = 6
	}
	if c.minSize <= 0 {
		c.minSize = 1024
	}

	if len(cfg.Algorithms) > 0 {
		for _, algo := range cfg.Algorithms {
			switch algo {
			case AlgoGzip, AlgoBrotli, AlgoDeflate:
				c.algoOrder = append(c.algoOrder, algo)
			}
		}
	}
	if len(c.algoOrder) == 0 {
		c.algoOrder = defaultAlgoOrder
	}

	c.contentTypes = cfg.ContentTypes
	if len(c.contentTypes) == 0 {
		c.contentTypes = defaultContentTypes
	}

	for _, algo := range c.algoOrder {
		c.stats[algo] = &AlgorithmStats{}
	}

	return c
}

// Enabled reports whether compression is configured on.
func (c *Compressor) Enabled() bool { return c.enabled }

// parseAcceptEncoding parses the Accept-Encoding header per RFC 7231 §5.3.4.
func parseAcceptEncoding(header string) []encodingPref {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	prefs := make([]encodingPref, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		enc := part
		q := 1.0
		if idx := strings.Index(part, ";"); idx != -1 {
			enc = strings.TrimSpace(part[:idx])
			params := strings.TrimSpace(part[idx+1:])
			if strings.HasPrefix(params, "q=") {
				if v, err := strconv.ParseFloat(params[2:], 64); err == nil {
					q = v
				}
			}
		}
		prefs = append(prefs, encodingPref{encoding: enc, quality: q})
	}
	return prefs
}

// Negotiate selects the algorithm for an Accept-Encoding header. Among
// encodings the client accepts, the configured preference order wins;
// q-values only reject (q=0) or admit candidates. Returns "" when nothing
// suitable is accepted.
func (c *Compressor) Negotiate(acceptEncoding string) string {
	if !c.enabled {
		return ""
	}
	prefs := parseAcceptEncoding(acceptEncoding)
	if len(prefs) == 0 {
		return ""
	}

	accepted := make(map[string]bool, len(prefs))
	wildcard := false
	for _, p := range prefs {
		if p.quality <= 0 {
			continue
		}
		if p.encoding == "*" {
			wildcard = true
			continue
		}
		accepted[p.encoding] = true
	}

	for _, algo := range c.algoOrder {
		if accepted[algo] || wildcard {
			return algo
		}
	}
	return ""
}

// ShouldCompress reports whether a response qualifies: compression enabled,
// an encoding negotiated, body at or above the threshold, and a content
// type matching one of the configured glob patterns.
func (c *Compressor) ShouldCompress(contentType string, length int, acceptEncoding string) bool {
	if !c.enabled || length < c.minSize {
		return false
	}
	if c.Negotiate(acceptEncoding) == "" {
		return false
	}
	return c.typeMatches(contentType)
}

func (c *Compressor) typeMatches(contentType string) bool {
	if idx := strings.IndexByte(contentType, ';'); idx != -1 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	for _, pat := range c.contentTypes {
		if ok, _ := doublestar.Match(pat, contentType); ok {
			return true
		}
	}
	return false
}

// Compress encodes a full buffer with the given algorithm.
func (c *Compressor) Compress(data []byte, algo string) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error

	switch algo {
	case AlgoGzip:
		level := c.level
		if level > gzip.BestCompression {
			level = gzip.BestCompression
		}
		w, err = gzip.NewWriterLevel(&buf, level)
	case AlgoBrotli:
		w = brotli.NewWriterLevel(&buf, c.level)
	case AlgoDeflate:
		level := c.level
		if level > flate.BestCompression {
			level = flate.BestCompression
		}
		w, err = flate.NewWriter(&buf, level)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algo)
	}
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	if s, ok := c.stats[algo]; ok {
		s.BytesIn.Add(int64(len(data)))
		s.BytesOut.Add(int64(buf.Len()))
		s.Count.Add(1)
	}
	return buf.Bytes(), nil
}

// Decompress decodes a full buffer with the given algorithm.
func Decompress(data []byte, algo string) ([]byte, error) {
	var r io.ReadCloser
	var err error

	switch algo {
	case AlgoGzip:
		r, err = gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
	case AlgoBrotli:
		r = io.NopCloser(brotli.NewReader(bytes.NewReader(data)))
	case AlgoDeflate:
		r = flate.NewReader(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algo)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// AddHeaders stamps the compression headers onto a response.
func AddHeaders(h http.Header, algo string, length int) {
	h.Set("Content-Encoding", algo)
	h.Set("Content-Length", strconv.Itoa(length))
	h.Set("Vary", "Accept-Encoding")
}

// Stats returns per-algorithm compression counters.
func (c *Compressor) Stats() map[string]AlgorithmSnapshot {
	snap := make(map[string]AlgorithmSnapshot, len(c.stats))
	for algo, s := range c.stats {
		snap[algo] = AlgorithmSnapshot{
			BytesIn:  s.BytesIn.Load(),
			BytesOut: s.BytesOut.Load(),
			Count:    s.Count.Load(),
		}
	}
	return snap
}
