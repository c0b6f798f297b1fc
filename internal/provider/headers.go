package provider

import (
	"net/http"

	"golang.org/x/net/http/httpguts"

	"github.com/af-corp/thinkrelay/internal/types"
)

type header struct {
	name, value, label string
}

// buildHeaders applies provider defaults, then caller headers on top. Bad
// defaults are internal failures; bad caller headers are request errors.
func buildHeaders(defaults []header, custom map[string]string) (http.Header, error) {
	h := make(http.Header, len(defaults)+len(custom))
	for _, d := range defaults {
		if !httpguts.ValidHeaderFieldValue(d.value) {
			return nil, &types.InternalError{Message: "Invalid " + d.label}
		}
		h.Set(d.name, d.value)
	}
	for name, value := range custom {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, &types.ValidationError{Type: "bad_request", Message: "Invalid header name: " + name, Param: name}
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, &types.ValidationError{Type: "bad_request", Message: "Invalid header value for " + name, Param: name}
		}
		h.Set(name, value)
	}
	return h, nil
}

// flattenHeaders keeps the first value of every response header.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
