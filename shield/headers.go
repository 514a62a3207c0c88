package shield

import (
	"net/http"
	"sort"
)

// Headers maps response header names to values. A header with an empty
// value is not sent.
type Headers map[string]string

// APIHeaders is the header set of the update endpoints. Responses are JSON
// carrying signed state: nothing may frame, sniff or cache them.
func APIHeaders() Headers {
	return Headers{
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
}

// With returns a copy of h with name set to value. An empty value drops
// the header.
func (h Headers) With(name, value string) Headers {
	out := make(Headers, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	out[http.CanonicalHeaderKey(name)] = value
	return out
}

// SecurityHeaders sets h on every response before calling the handler.
func SecurityHeaders(h Headers) func(http.Handler) http.Handler {
	names := make([]string, 0, len(h))
	for k, v := range h {
		if v != "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out := w.Header()
			for _, k := range names {
				out.Set(k, h[k])
			}
			next.ServeHTTP(w, r)
		})
	}
}
