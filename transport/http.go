package transport

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/proxy"

	"github.com/tonk-labs/vfsrt/lifecycle"
	"github.com/tonk-labs/vfsrt/resolver"
	"github.com/tonk-labs/vfsrt/response"
)

// HTTPConfig carries the per-registration values Resolve needs that the
// transport layer, not the resolver, is responsible for knowing:
// the scope this runtime instance was mounted under, and whether this
// instance runs in dev-proxy mode.
type HTTPConfig struct {
	RegistrationScope string
	DevProxy          resolver.DevProxy
}

// NewHTTPHandler builds the fiber.Handler that serves every non-upgrade
// request: resolve against the VFS, assemble the reply, optionally
// thumbnail an image, or reverse-proxy to a dev server.
func NewHTTPHandler(controller *lifecycle.Controller, cfg HTTPConfig) fiber.Handler {
	return func(c fiber.Ctx) error {
		path := c.Path()
		rawQuery := string(c.Request().URI().QueryString())

		state, scope := controller.Snapshot()

		in := resolver.Input{
			Path:              path,
			RawQuery:          rawQuery,
			IsUpgrade:         isUpgradeRequest(c),
			SameOrigin:        isSameOrigin(c),
			AppScope:          scope,
			RegistrationScope: cfg.RegistrationScope,
			DevProxy:          cfg.DevProxy,
			IsHTMLLike:        resolver.IsHTMLLike(path),
		}

		eng, err := state.RequireEngine()
		if err != nil {
			return c.Next() // not Ready: fall through to the host's own routing
		}

		outcome := resolver.Resolve(c.Context(), in, eng)
		if outcome.ClearScope {
			controller.ResetScope()
		}

		switch outcome.Decision.Kind {
		case resolver.KindBypass:
			return c.Next()

		case resolver.KindProxy:
			return proxyTo(c, outcome.Decision.URL)

		case resolver.KindServe, resolver.KindFallback:
			doc, err := eng.ReadFile(c.Context(), outcome.Decision.Path)
			if err != nil {
				return c.Next()
			}
			reply, err := response.Assemble(doc)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			if reply.ContentType == "" {
				reply.ContentType = resolver.MIMEForPath(outcome.Decision.Path)
			}
			if w := thumbnailWidth(c); w > 0 {
				reply, err = response.Thumbnail(reply, w)
				if err != nil {
					return fiber.NewError(fiber.StatusInternalServerError, err.Error())
				}
			}
			c.Set(fiber.HeaderContentType, reply.ContentType)
			return c.Send(reply.Body)
		}
		return c.Next()
	}
}

func isUpgradeRequest(c fiber.Ctx) bool {
	return strings.EqualFold(c.Get("Upgrade"), "websocket")
}

// isSameOrigin trusts an absent Origin header (first-party navigations
// and same-tab asset requests rarely carry one) and otherwise compares
// Origin to Host.
func isSameOrigin(c fiber.Ctx) bool {
	origin := c.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == c.Host()
}

func thumbnailWidth(c fiber.Ctx) int {
	raw := c.Query("w")
	if raw == "" {
		return 0
	}
	w, err := strconv.Atoi(raw)
	if err != nil || w <= 0 {
		return 0
	}
	return w
}

// proxyTo forwards a request verbatim to targetURL, the dev-proxy mode
// reverse-proxy path. Caching is forcibly disabled on the reply so the
// browser never serves a stale asset from a dev server that rebuilds on
// every request; on dev-server failure the caller gets a 502 text reply
// rather than bypassing to the host's own routing, since this mode has no
// origin fallback to bypass to.
func proxyTo(c fiber.Ctx, targetURL string) error {
	setNoCacheHeaders(c)
	if _, err := url.Parse(targetURL); err != nil {
		return c.Status(fiber.StatusBadGateway).SendString("dev proxy: bad target url")
	}
	if err := proxy.Do(c, targetURL); err != nil {
		return c.Status(fiber.StatusBadGateway).SendString("dev proxy: " + err.Error())
	}
	return nil
}

func setNoCacheHeaders(c fiber.Ctx) {
	c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	c.Set("Pragma", "no-cache")
	c.Set("Expires", "0")
}
