package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/relaymesh/gateway/internal/config"
)

func enabled(algos ...string) *Compressor {
	return New(config.CompressionConfig{Enabled: true, Algorithms: algos, MinSize: 10})
}

func TestNegotiatePreferenceOrderWins(t *testing.T) {
	c := enabled() // default order: br, gzip, deflate

	// Both accepted; configured order wins over listing order.
	if got := c.Negotiate("gzip, br"); got != "br" {
		t.Errorf("expected br, got %q", got)
	}
	if got := c.Negotiate("deflate, gzip"); got != "gzip" {
		t.Errorf("expected gzip, got %q", got)
	}
}

func TestNegotiateQValues(t *testing.T) {
	c := enabled()

	// q=0 rejects an encoding outright.
	if got := c.Negotiate("br;q=0, gzip"); got != "gzip" {
		t.Errorf("q=0 must reject br, got %q", got)
	}
	// Wildcard admits everything the server offers.
	if got := c.Negotiate("*"); got != "br" {
		t.Errorf("wildcard should yield the preferred algorithm, got %q", got)
	}
	if got := c.Negotiate("identity"); got != "" {
		t.Errorf("no overlap means no compression, got %q", got)
	}
	if got := c.Negotiate(""); got != "" {
		t.Errorf("empty header means no compression, got %q", got)
	}
}

func TestNegotiateDisabled(t *testing.T) {
	c := New(config.CompressionConfig{Enabled: false})
	if got := c.Negotiate("gzip"); got != "" {
		t.Errorf("disabled compressor must not negotiate, got %q", got)
	}
}

func TestShouldCompress(t *testing.T) {
	c := New(config.CompressionConfig{Enabled: true, MinSize: 100})

	if !c.ShouldCompress("application/json", 4096, "gzip, br") {
		t.Error("large JSON with accepted encodings should compress")
	}
	if c.ShouldCompress("application/json", 50, "gzip") {
		t.Error("below threshold must not compress")
	}
	if c.ShouldCompress("image/png", 4096, "gzip") {
		t.Error("non-matching content type must not compress")
	}
	if c.ShouldCompress("application/json", 4096, "") {
		t.Error("no accepted encoding must not compress")
	}
	if c.ShouldCompress("text/html; charset=utf-8", 4096, "gzip") == false {
		t.Error("content-type parameters must be ignored when matching")
	}
}

func TestRoundTripAllAlgorithms(t *testing.T) {
	c := enabled()
	original := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 100))

	for _, algo := range []string{AlgoGzip, AlgoBrotli, AlgoDeflate} {
		compressed, err := c.Compress(original, algo)
		if err != nil {
			t.Fatalf("%s compress: %v", algo, err)
		}
		if len(compressed) >= len(original) {
			t.Errorf("%s produced no size win on repetitive input", algo)
		}

		decompressed, err := Decompress(compressed, algo)
		if err != nil {
			t.Fatalf("%s decompress: %v", algo, err)
		}
		if !bytes.Equal(decompressed, original) {
			t.Errorf("%s round trip mismatch", algo)
		}
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	c := enabled()
	if _, err := c.Compress([]byte("x"), "zstd"); err == nil {
		t.Error("unsupported algorithm must error")
	}
	if _, err := Decompress([]byte("x"), "zstd"); err == nil {
		t.Error("unsupported algorithm must error")
	}
}

func TestStatsRecorded(t *testing.T) {
	c := enabled()
	payload := []byte(strings.Repeat("data", 100))

	c.Compress(payload, AlgoGzip)
	c.Compress(payload, AlgoGzip)

	snap := c.Stats()[AlgoGzip]
	if snap.Count != 2 {
		t.Errorf("expected 2 compressions, got %d", snap.Count)
	}
	if snap.BytesIn != int64(2*len(payload)) {
		t.Errorf("bytes-in mismatch: %d", snap.BytesIn)
	}
	if snap.BytesOut <= 0 || snap.BytesOut >= snap.BytesIn {
		t.Errorf("bytes-out should be positive and smaller: %d", snap.BytesOut)
	}
}

func TestConfiguredAlgorithmSubset(t *testing.T) {
	c := enabled("gzip")
	if got := c.Negotiate("br, gzip"); got != "gzip" {
		t.Errorf("only configured algorithms are offered, got %q", got)
	}
	if got := c.Negotiate("br"); got != "" {
		t.Errorf("br is not configured, got %q", got)
	}
}
