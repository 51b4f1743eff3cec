package urlcache

import (
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultSkew = 60 * time.Second
	DefaultTTL  = time.Hour

	signedDateLayout = "20060102T150405Z"
)

// Query parameter pairs (issuance time, ttl seconds) used by SigV4-style
// presigned URLs. S3 and GCS V4 signing use the same layout under different
// prefixes.
var signatureParams = [][2]string{
	{"X-Amz-Date", "X-Amz-Expires"},
	{"X-Goog-Date", "X-Goog-Expires"},
}

// ExpiresAt extracts issuance + ttl from a signed URL. ok is false when the
// parameters are missing or unparseable.
func ExpiresAt(rawURL string) (expiresAt time.Time, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return time.Time{}, false
	}
	q := u.Query()
	for _, p := range signatureParams {
		date, ttl := q.Get(p[0]), q.Get(p[1])
		if date == "" && ttl == "" {
			continue
		}
		issued, err := time.Parse(signedDateLayout, date)
		if err != nil {
			return time.Time{}, false
		}
		seconds, err := strconv.ParseInt(ttl, 10, 64)
		if err != nil || seconds <= 0 {
			return time.Time{}, false
		}
		return issued.Add(time.Duration(seconds) * time.Second), true
	}
	return time.Time{}, false
}

// IsExpired reports whether rawURL must be regenerated: now >= expiry - skew,
// or the expiry cannot be determined.
func IsExpired(rawURL string, now time.Time, skew time.Duration) bool {
	expiresAt, ok := ExpiresAt(rawURL)
	if !ok {
		return true
	}
	return !now.Before(expiresAt.Add(-skew))
}
