package errors

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	in := "user jo@example.com at 192.168.1.10 called +1 (555) 123-4567"
	out := Redact(in)

	if strings.Contains(out, "jo@example.com") {
		t.Error("email not redacted")
	}
	if strings.Contains(out, "192.168.1.10") {
		t.Error("ipv4 not redacted")
	}
	if strings.Contains(out, "555") {
		t.Error("phone not redacted")
	}
	if !strings.Contains(out, "[redacted-email]") {
		t.Errorf("expected email placeholder: %s", out)
	}
}

func TestEnvelopeShape(t *testing.T) {
	w := httptest.NewRecorder()
	ErrBadGateway.WithRequestID("req-1").WriteJSON(w, false, false)

	if w.Code != 502 {
		t.Errorf("expected 502, got %d", w.Code)
	}

	var env struct {
		Error struct {
			Code       string `json:"code"`
			Message    string `json:"message"`
			StatusCode int    `json:"statusCode"`
			RequestID  string `json:"requestId"`
			Retryable  *bool  `json:"retryable"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("bad envelope: %v", err)
	}
	if env.Error.Code != "BAD_GATEWAY" || env.Error.StatusCode != 502 {
		t.Errorf("unexpected envelope %+v", env.Error)
	}
	if env.Error.RequestID != "req-1" {
		t.Error("request id missing")
	}
	if env.Error.Retryable == nil || !*env.Error.Retryable {
		t.Error("retryable emitted outside production")
	}
}

func TestRetryableSuppressedInProduction(t *testing.T) {
	w := httptest.NewRecorder()
	ErrBadGateway.WriteJSON(w, true, false)

	if strings.Contains(w.Body.String(), "retryable") {
		t.Error("retryable field must be omitted in production")
	}
}

func TestRedactionApplied(t *testing.T) {
	w := httptest.NewRecorder()
	e := New("UPSTREAM_ERROR", 502, "dial 10.1.2.3 failed")
	e.WriteJSON(w, false, true)

	if strings.Contains(w.Body.String(), "10.1.2.3") {
		t.Error("redaction enabled but IP leaked")
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	e := Wrap(cause, "NETWORK_ERROR", 502, "upstream gone")

	if !Is(e, cause) {
		t.Error("wrapped cause must be reachable via Is")
	}
	var ge *GatewayError
	if !As(fmt.Errorf("outer: %w", e), &ge) {
		t.Error("As must find the gateway error through wrapping")
	}
	if ge.Code != "NETWORK_ERROR" {
		t.Errorf("unexpected code %s", ge.Code)
	}
}

func TestAsGatewayErrorClassifiesNetwork(t *testing.T) {
	ge := AsGatewayError(fmt.Errorf("dial tcp 127.0.0.1:9: connection refused"))
	if ge.Category != CategoryNetwork {
		t.Errorf("expected network category, got %s", ge.Category)
	}
	if !ge.Retryable {
		t.Error("network errors are retryable")
	}
}

func TestIsNetworkMessage(t *testing.T) {
	for _, msg := range []string{
		"i/o timeout",
		"ECONNREFUSED",
		"connection reset by peer",
		"no route to host",
		"service unavailable",
	} {
		if !IsNetworkMessage(msg) {
			t.Errorf("%q should classify as network", msg)
		}
	}
	if IsNetworkMessage("permission denied") {
		t.Error("unrelated message misclassified")
	}
}

func TestUpstreamStatusRetryability(t *testing.T) {
	for _, status := range []int{502, 503, 504, 408, 429} {
		if !NewUpstreamStatus(status).Retryable {
			t.Errorf("%d should be retryable", status)
		}
	}
	if NewUpstreamStatus(500).Retryable {
		t.Error("500 is not in the retryable set")
	}
}

func TestCircuitOpenNotRetryable(t *testing.T) {
	if ErrCircuitOpen.Retryable {
		t.Error("circuit-open is never retryable")
	}
	if ErrCircuitOpen.Category != CategoryCircuitBreaker {
		t.Error("wrong category")
	}
}
