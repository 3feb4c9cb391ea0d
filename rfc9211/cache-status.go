package rfc9211

import (
	"net/http"
	"strings"
)

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     The Cache-Status HTTP response header field indicates caches' handling
// §     of the request corresponding to the response it occurs within.
// §
// §     Its value is a List [STRUCTURED-FIELDS]:
// §
// §     Cache-Status   = sf-list
// §
// §     Each member of the list represents a cache that has handled the
// §     request.  The first member of the list represents the cache closest
// §     to the origin server, and the last member of the list represents the
// §     cache closest to the user (possibly including the user agent's cache
// §     itself, if it appends a value).
const HeaderName = "Cache-Status"

type Status string

const (
	// §  2.1.  The hit Parameter
	// §
	// §     "hit", when true, indicates that the request was satisfied by the
	// §     cache; that is, it was not forwarded, and the response was obtained
	// §     from the cache.
	StatusHit Status = "hit"
	// §  2.2.  The fwd Parameter
	// §
	// §     "fwd" indicates that the request went forward towards the origin and
	// §     why.
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics did not allow its use.
	FwdRequest FwdReason = "request"
)

// CacheStatus builds the list member for one cache.
type CacheStatus struct {
	cache     string
	status    Status
	fwdReason FwdReason
	stored    bool
	collapsed bool
	detail    string
}

func New(cache string) *CacheStatus {
	return &CacheStatus{cache: cache}
}

func (cs *CacheStatus) Hit() *CacheStatus {
	cs.status = StatusHit
	cs.fwdReason = ""
	return cs
}

func (cs *CacheStatus) Forward(reason FwdReason) *CacheStatus {
	cs.status = StatusFwd
	cs.fwdReason = reason
	return cs
}

// §  2.5.  The stored Parameter
// §
// §     "stored" indicates whether the cache stored the response
// §     (Section 3 of [HTTP-CACHING]); a true value indicates that it did.
func (cs *CacheStatus) Stored() *CacheStatus {
	cs.stored = true
	return cs
}

// §  2.6.  The collapsed Parameter
// §
// §     "collapsed" indicates whether this request was collapsed together with
// §     one or more other forward requests (Section 4 of [HTTP-CACHING]).
func (cs *CacheStatus) Collapsed() *CacheStatus {
	cs.collapsed = true
	return cs
}

// §  2.8.  The detail Parameter
// §
// §     "detail" allows implementations to convey additional information not
// §     captured in other parameters, such as implementation-specific states
// §     or other caching-related metrics.
func (cs *CacheStatus) Detail(detail string) *CacheStatus {
	cs.detail = detail
	return cs
}

func (cs *CacheStatus) String() string {
	b := &strings.Builder{}
	b.WriteString(cs.cache)
	if cs.status != "" {
		b.WriteString("; ")
		b.WriteString(string(cs.status))
	}
	if cs.status == StatusFwd && cs.fwdReason != "" {
		b.WriteString("=")
		b.WriteString(string(cs.fwdReason))
	}
	if cs.stored {
		b.WriteString("; stored")
	}
	if cs.collapsed {
		b.WriteString("; collapsed")
	}
	if cs.detail != "" {
		b.WriteString("; detail=")
		b.WriteString(cs.detail)
	}
	return b.String()
}

// Apply adds the status as the member closest to the user.
func (cs *CacheStatus) Apply(header http.Header) {
	header.Add(HeaderName, cs.String())
}
