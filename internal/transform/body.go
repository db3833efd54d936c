package transform

import (
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/relaymesh/gateway/internal/config"
)

// applyBodyOps rewrites a buffered body. JSON transforms run wrap, then
// set, then remove at dotted paths; form-urlencoded bodies run set then
// remove. Anything unparseable is a no-op returning the original body.
func applyBodyOps(body []byte, contentType string, ops *config.BodyOpsConfig) []byte {
	if len(body) == 0 {
		return body
	}

	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		return applyFormOps(body, ops)
	}
	return applyJSONOps(body, ops)
}

func applyJSONOps(body []byte, ops *config.BodyOpsConfig) []byte {
	if !gjson.ValidBytes(body) {
		return body
	}

	out := body

	if ops.JSONWrap != "" {
		wrapped, err := sjson.SetRawBytes([]byte(`{}`), ops.JSONWrap, out)
		if err != nil {
			return body
		}
		out = wrapped
	}

	for path, value := range ops.JSONSet {
		next, err := sjson.SetBytes(out, path, inferType(value))
		if err != nil {
			continue
		}
		out = next
	}

	for _, path := range ops.JSONRemove {
		next, err := sjson.DeleteBytes(out, path)
		if err != nil {
			continue
		}
		out = next
	}

	return out
}

func applyFormOps(body []byte, ops *config.BodyOpsConfig) []byte {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return body
	}

	for name, value := range ops.FormSet {
		values.Set(name, value)
	}
	for _, name := range ops.FormRemove {
		values.Del(name)
	}

	return []byte(values.Encode())
}

// inferType converts a config string to the JSON value it spells:
// booleans, null and numbers stay typed, everything else is a string.
func inferType(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n := gjson.Parse(s); n.Type == gjson.Number {
		return n.Num
	}
	return s
}
