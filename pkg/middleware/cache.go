package middleware

import (
	"fmt"
	"net/http"
)

// cacheWriter decides the Cache-Control header once the status is known:
// only 200 responses are cacheable, everything else is no-store.
type cacheWriter struct {
	http.ResponseWriter
	value       string
	wroteHeader bool
}

func (c *cacheWriter) WriteHeader(code int) {
	if !c.wroteHeader {
		c.wroteHeader = true
		if code == http.StatusOK {
			c.Header().Set("Cache-Control", c.value)
		} else {
			c.Header().Set("Cache-Control", "no-store")
		}
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *cacheWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	return c.ResponseWriter.Write(b)
}

func (c *cacheWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }

// CacheControl returns a middleware that marks successful GET responses as
// publicly cacheable for maxAge seconds. A non-positive maxAge sets no-cache.
func CacheControl(maxAge int) func(http.Handler) http.Handler {
	value := "no-cache"
	if maxAge > 0 {
		value = fmt.Sprintf("public, max-age=%d", maxAge)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(&cacheWriter{ResponseWriter: w, value: value}, r)
		})
	}
}

// NoStore forbids any cache from keeping the response. Used for
// authenticated endpoints and write responses.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
