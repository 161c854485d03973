package engine

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// checkPolicy composes the response-policy stage: CORS headers, the
// HTTPS requirement with HSTS and baseline security headers, and the
// content-type allowlist. Headers are emitted before either block in
// this stage, so HSTS still rides a blocked decision.
func (e *Engine) checkPolicy(view *requestView) verdict {
	headers := map[string]string{}

	e.corsHeaders(view, headers)

	if v := e.httpsPolicy(view, headers); v.blocked {
		v.headers = headers
		return v
	}

	if v := e.contentTypePolicy(view); v.blocked {
		v.headers = headers
		return v
	}

	return verdict{headers: headers}
}

// corsHeaders emits CORS response headers when the Origin is allowed.
// A disallowed origin never blocks: the headers are simply withheld and
// the browser enforces from there.
func (e *Engine) corsHeaders(view *requestView, headers map[string]string) {
	co := e.cfg.Cors
	if !co.Enabled {
		return
	}
	origin := view.headers.Get("Origin")
	if origin == "" {
		return
	}

	wildcard := co.AllowAllOrigins
	allowed := wildcard
	if !allowed {
		for _, o := range co.AllowOrigins {
			if o == "*" {
				wildcard, allowed = true, true
				break
			}
			if strings.EqualFold(o, origin) {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		return
	}

	if wildcard && !co.AllowCredentials {
		headers["Access-Control-Allow-Origin"] = "*"
	} else {
		// Echo the origin: credentialed responses cannot use the wildcard.
		headers["Access-Control-Allow-Origin"] = origin
		headers["Vary"] = "Origin"
	}
	if co.AllowCredentials {
		headers["Access-Control-Allow-Credentials"] = "true"
	}

	if view.method == http.MethodOptions {
		headers["Access-Control-Allow-Methods"] = strings.Join(co.AllowMethods, ", ")
		headers["Access-Control-Allow-Headers"] = strings.Join(co.AllowHeaders, ", ")
		headers["Access-Control-Max-Age"] = strconv.Itoa(co.MaxAge)
	}
}

// httpsPolicy emits HSTS plus the baseline security headers when
// enabled, then enforces the HTTPS requirement.
func (e *Engine) httpsPolicy(view *requestView, headers map[string]string) verdict {
	ht := e.cfg.Https
	if !ht.Enabled {
		return verdict{}
	}

	hsts := fmt.Sprintf("max-age=%d", ht.HSTSMaxAge)
	if *ht.HSTSIncludeSubdomains {
		hsts += "; includeSubDomains"
	}
	headers["Strict-Transport-Security"] = hsts
	headers["X-Content-Type-Options"] = "nosniff"
	headers["X-Frame-Options"] = "DENY"
	headers["X-XSS-Protection"] = "1; mode=block"

	if ht.RequireHTTPS && view.scheme != "https" {
		return blockVerdict("https", http.StatusForbidden, "https required")
	}
	return verdict{}
}

// contentTypePolicy enforces the request media-type allowlist for
// requests that carry a body. Only strict mode blocks; without it a
// disallowed type passes untouched.
func (e *Engine) contentTypePolicy(view *requestView) verdict {
	ct := e.cfg.ContentType
	if !*ct.Enabled || !ct.StrictMode || len(view.body) == 0 {
		return verdict{}
	}

	raw := view.headers.Get("Content-Type")
	media := ""
	if raw != "" {
		if parsed, _, err := mime.ParseMediaType(raw); err == nil {
			media = parsed
		} else {
			media = strings.ToLower(strings.TrimSpace(raw))
		}
	}

	for _, allowed := range ct.AllowedTypes {
		if media == strings.ToLower(strings.TrimSpace(allowed)) {
			return verdict{}
		}
	}
	return blockVerdict("content_type", http.StatusUnsupportedMediaType,
		fmt.Sprintf("unsupported content type %q", media))
}
