// Package host describes the runtime the wallet frontend is served in: whether it is
// framed by another application, whether the user agent is a mobile browser, and the
// origin deep links point back to.
package host

import (
	"context"
	"regexp"
)

// Environment is consulted by adapters whose protocol depends on where the page runs.
type Environment interface {
	// Embedded reports whether the top-level window differs from the current one.
	Embedded() bool
	Mobile() bool
	// Origin is the host (and port) the page is served from, used to build deep links.
	Origin() string
}

var mobileUserAgent = regexp.MustCompile(`(?i)android|iphone|ipad|ipod|mobile|opera mini|iemobile`)

// IsMobileUserAgent applies the usual user agent heuristic.
func IsMobileUserAgent(ua string) bool {
	return mobileUserAgent.MatchString(ua)
}

// Static is an Environment with fixed properties.
type Static struct {
	IsEmbedded bool
	UserAgent  string
	PageOrigin string
}

func (s *Static) Embedded() bool { return s.IsEmbedded }

func (s *Static) Mobile() bool { return IsMobileUserAgent(s.UserAgent) }

func (s *Static) Origin() string { return s.PageOrigin }

type userAgentKey struct{}

// WithUserAgent attaches the user agent of the browser a request came from.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}

type requestEnvironment struct {
	Environment
	mobile bool
}

func (r requestEnvironment) Mobile() bool { return r.mobile }

// FromContext returns env with Mobile decided by the user agent carried by ctx, if any.
func FromContext(ctx context.Context, env Environment) Environment {
	ua, _ := ctx.Value(userAgentKey{}).(string)
	if ua == "" {
		return env
	}
	return requestEnvironment{Environment: env, mobile: IsMobileUserAgent(ua)}
}
