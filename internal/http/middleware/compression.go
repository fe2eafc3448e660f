package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForMedia wraps a compression middleware handler to skip
// compression for segment bytes. fMP4 fragments are already compressed and
// the uploader child reads them back on a latency budget; gzip on those
// paths burns CPU for nothing. Status and health JSON still compress.
func SkipCompressionForMedia(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		// Create the compression-wrapped handler
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Segment read-back and ingest carry raw media payloads.
			if strings.HasPrefix(r.URL.Path, "/segments/") || r.URL.Path == "/upload_segment" {
				next.ServeHTTP(w, r)
				return
			}

			// Apply compression for all other requests
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
