package resolver

import "strings"

// devProxyPrefixes are the dev-toolchain's own paths that must always be
// proxied verbatim rather than resolved against the VFS: Vite-shaped
// module graph entries, the HMR socket, and the scope's live source tree.
var devProxyPrefixes = []string{
	"/@vite/",
	"/@id/",
	"/@fs/",
	"/__hmr",
	"/src/",
	"/node_modules/",
}

// MatchesDevProxy reports whether path is one of the dev toolchain's own
// well-known prefixes or carries a cache-busting query string. Dev-proxy
// mode proxies every same-origin request regardless, so Resolve does not
// consult it and nothing outside this package's tests calls it.
func MatchesDevProxy(path, rawQuery string) bool {
	for _, prefix := range devProxyPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return isCacheBusted(rawQuery)
}

// isCacheBusted recognizes the query-string conventions dev servers use
// to defeat the browser cache on hot-reloaded modules (?t=<timestamp>,
// ?v=<hash>, ?import).
func isCacheBusted(rawQuery string) bool {
	for _, param := range strings.Split(rawQuery, "&") {
		key := param
		if idx := strings.IndexByte(param, '='); idx >= 0 {
			key = param[:idx]
		}
		switch key {
		case "t", "v", "import":
			return true
		}
	}
	return false
}
