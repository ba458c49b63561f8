// Package resolver maps an incoming HTTP request to a VFS path, a
// dev-proxy passthrough, or a decision to bypass to the network. Resolve
// is a pure function of its inputs plus read-only engine existence checks
// (the requested path, then the SPA fallback); it never mutates AppScope itself, only reports that the caller
// must clear it.
package resolver

import (
	"context"
	"strings"
)

// Kind discriminates the closed Decision sum type.
type Kind int

const (
	KindBypass Kind = iota
	KindServe
	KindFallback
	KindProxy
)

func (k Kind) String() string {
	switch k {
	case KindBypass:
		return "bypass"
	case KindServe:
		return "serve"
	case KindFallback:
		return "fallback"
	case KindProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// Decision is the resolver's verdict for one request.
type Decision struct {
	Kind Kind
	Path string // KindServe / KindFallback: the VFS path to read
	URL  string // KindProxy: the fully-qualified dev-server URL to proxy to
}

func bypass() Decision          { return Decision{Kind: KindBypass} }
func serve(path string) Decision { return Decision{Kind: KindServe, Path: path} }
func fallbackTo(path string) Decision {
	return Decision{Kind: KindFallback, Path: path}
}
func proxyTo(url string) Decision { return Decision{Kind: KindProxy, URL: url} }

// DevProxy configures dev-proxy mode: every same-origin request is
// forwarded verbatim to a running dev server instead of resolved against
// the VFS.
type DevProxy struct {
	Enabled bool
	BaseURL string
}

// EngineView is the narrow read-only slice of engine.Engine the resolver
// needs to decide Serve vs. Fallback vs. Bypass.
type EngineView interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Input captures everything Resolve needs about one request.
type Input struct {
	Path              string
	RawQuery          string
	IsUpgrade         bool
	SameOrigin        bool
	AppScope          string
	RegistrationScope string
	DevProxy          DevProxy
	IsHTMLLike        bool
}

// Outcome is the Decision plus the side-effect instruction to clear
// AppScope on root-navigation. The caller — not Resolve — performs the
// actual clear and persistence, since Resolve must stay a pure function
// of its inputs.
type Outcome struct {
	Decision   Decision
	ClearScope bool
}

// Resolve applies the resolution rules in order: bypass upgrades and
// cross-origin/unscoped requests, honor dev-proxy mode, then resolve
// against the VFS with an HTML-fallback for scoped navigations.
func Resolve(ctx context.Context, in Input, view EngineView) Outcome {
	if in.IsUpgrade {
		return Outcome{Decision: bypass()}
	}
	if (in.Path == "/" || in.Path == "") && in.AppScope != "" {
		return Outcome{Decision: bypass(), ClearScope: true}
	}
	if !in.SameOrigin {
		return Outcome{Decision: bypass()}
	}
	if in.AppScope == "" {
		return Outcome{Decision: bypass()}
	}
	if in.DevProxy.Enabled {
		return Outcome{Decision: proxyTo(in.DevProxy.BaseURL + in.Path + queryString(in.RawQuery))}
	}

	vfsPath := normalize(in)
	exists, err := view.Exists(ctx, vfsPath)
	if err != nil {
		return Outcome{Decision: bypass()}
	}
	if exists {
		return Outcome{Decision: serve(vfsPath)}
	}
	if !in.IsHTMLLike {
		return Outcome{Decision: bypass()}
	}
	fallback := "/" + in.AppScope + "/index.html"
	fallbackExists, err := view.Exists(ctx, fallback)
	if err != nil || !fallbackExists {
		return Outcome{Decision: bypass()}
	}
	return Outcome{Decision: fallbackTo(fallback)}
}

// normalize maps a request path to a VFS path in normal (non-dev-proxy) mode.
func normalize(in Input) string {
	path := strings.TrimPrefix(in.Path, in.RegistrationScope)
	segments := splitSegments(path)
	if len(segments) > 0 && segments[0] == in.AppScope {
		segments = segments[1:]
	}
	if len(segments) == 0 || strings.HasSuffix(path, "/") {
		segments = append(segments, "index.html")
	}
	return "/" + in.AppScope + "/" + strings.Join(segments, "/")
}

func splitSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func queryString(raw string) string {
	if raw == "" {
		return ""
	}
	return "?" + raw
}
