package record

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Redacted replaces credential material in traces. Never write a client or
// backend credential to disk in any other form.
const Redacted = "[REDACTED]"

// sensitiveHeaderPatterns match lowercased header names whose values are
// credentials.
var sensitiveHeaderPatterns = []glob.Glob{
	glob.MustCompile("authorization"),
	glob.MustCompile("proxy-authorization"),
	glob.MustCompile("cookie"),
	glob.MustCompile("set-cookie"),
	glob.MustCompile("x-api-key"),
	glob.MustCompile("*-api-key"),
	glob.MustCompile("*-token"),
}

// sensitiveBodyPaths are JSON paths in captured bodies whose values are
// credentials. Array elements are expanded per index at redaction time.
var sensitiveBodyPaths = []string{
	"api_key",
	"backend_api_key",
	"admin_secret",
}

// IsSensitiveHeader reports whether the named header carries a credential.
func IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range sensitiveHeaderPatterns {
		if p.Match(lower) {
			return true
		}
	}
	return false
}

// RedactHeaders flattens h into a lowercased name→value map with
// credential values replaced by the sentinel.
func RedactHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		if IsSensitiveHeader(lower) {
			out[lower] = Redacted
			continue
		}
		out[lower] = strings.Join(values, ", ")
	}
	return out
}

// redactHeaderMap redacts an already-flattened header map in place.
func redactHeaderMap(headers map[string]string) {
	for name := range headers {
		if IsSensitiveHeader(name) {
			headers[name] = Redacted
		}
	}
}

// RedactBody replaces credential fields in a JSON body. Non-JSON input is
// returned unchanged.
func RedactBody(body []byte) []byte {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return body
	}

	for _, path := range sensitiveBodyPaths {
		if gjson.GetBytes(body, path).Exists() {
			if redacted, err := sjson.SetBytes(body, path, Redacted); err == nil {
				body = redacted
			}
		}
	}

	// backends is a list of {name, base_url, api_key, ...} entries.
	if n := gjson.GetBytes(body, "backends.#"); n.Exists() {
		for i := int64(0); i < n.Int(); i++ {
			path := "backends." + strconv.FormatInt(i, 10) + ".api_key"
			if gjson.GetBytes(body, path).Exists() {
				if redacted, err := sjson.SetBytes(body, path, Redacted); err == nil {
					body = redacted
				}
			}
		}
	}
	return body
}
