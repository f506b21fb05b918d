package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Fingerprint builds a quoted entity tag from a resource key, its modification
// time and its size.
func Fingerprint(key string, modTime time.Time, size int64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%d-%d", key, modTime.UnixNano(), size)))
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// BodyETag builds a quoted entity tag from an encoded response body.
func BodyETag(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// NotModified reports whether the request's preconditions are satisfied by
// the current representation. If-None-Match takes precedence over
// If-Modified-Since; a zero modTime never satisfies If-Modified-Since.
func NotModified(r *http.Request, etag string, modTime time.Time) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		return etagMatches(inm, etag)
	}

	ims := r.Header.Get("If-Modified-Since")
	if ims == "" || modTime.IsZero() {
		return false
	}
	since, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return !modTime.Truncate(time.Second).After(since)
}

func etagMatches(header, etag string) bool {
	if etag == "" {
		return false
	}
	current := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == current {
			return true
		}
	}
	return false
}
