package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/org/keyproxy/internal/vault"
	"github.com/org/keyproxy/pkg/models"
	"github.com/rs/zerolog/log"
)

// proxyKeyHeader carries the proxy credential on forwarded requests. It is
// stripped before the request leaves for the upstream.
const proxyKeyHeader = "X-Proxy-Key"

// ownerHeader identifies the calling tenant. Resolution decrypts under this
// owner's session key; the proxy id alone is not a bearer token.
const ownerHeader = "X-Owner-ID"

// rotatedHeader tells the caller its proxy credential was rotated during this
// call and which id to use next.
const rotatedHeader = "X-Proxy-Key-Rotated"

// Resolver resolves a proxy credential to the real upstream secret under the
// calling owner's session key. Implemented by vault.Service.
type Resolver interface {
	Resolve(ctx context.Context, ownerID, proxyID string) (*models.Resolution, error)
}

// Router forwards requests at /proxy/{provider}/* to the upstream service,
// swapping the proxy credential for the real one. The real secret exists only
// inside the outbound request; it is never echoed to the caller.
type Router struct {
	resolver  Resolver
	providers map[string]Provider
	upstreams map[string]*url.URL
}

// New creates a Router over the given resolver and provider table. Providers
// with unparseable base URLs are dropped with a warning.
func New(resolver Resolver, providers map[string]Provider) *Router {
	upstreams := make(map[string]*url.URL, len(providers))
	for name, p := range providers {
		u, err := url.Parse(p.BaseURL)
		if err != nil || u.Host == "" {
			log.Warn().Str("provider", name).Str("base_url", p.BaseURL).Msg("invalid provider base URL, skipping")
			continue
		}
		upstreams[name] = u
	}
	return &Router{resolver: resolver, providers: providers, upstreams: upstreams}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/proxy/")
	name, upstreamPath, _ := strings.Cut(rest, "/")

	target, ok := rt.upstreams[name]
	if !ok {
		writeProxyError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", name))
		return
	}
	provider := rt.providers[name]

	proxyKey := r.Header.Get(proxyKeyHeader)
	if proxyKey == "" {
		writeProxyError(w, http.StatusUnauthorized, "missing "+proxyKeyHeader+" header")
		return
	}
	owner := r.Header.Get(ownerHeader)
	if owner == "" {
		writeProxyError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
		return
	}

	res, err := rt.resolver.Resolve(r.Context(), owner, proxyKey)
	if err != nil {
		switch {
		case errors.Is(err, vault.ErrUnauthorized):
			writeProxyError(w, http.StatusUnauthorized, "vault locked for this credential's owner")
		case errors.Is(err, vault.ErrNotFound), errors.Is(err, vault.ErrDecryption):
			writeProxyError(w, http.StatusNotFound, "proxy credential not found")
		default:
			writeProxyError(w, http.StatusInternalServerError, "credential resolution failed")
		}
		return
	}
	if res.Status == models.ResolveRevoked {
		writeProxyError(w, http.StatusGone, "proxy credential revoked")
		return
	}
	if res.Provider != name {
		// A credential provisioned for one provider cannot be replayed
		// against another.
		writeProxyError(w, http.StatusForbidden, "credential not valid for this provider")
		return
	}
	if res.Status == models.ResolveRotated {
		w.Header().Set(rotatedHeader, res.NewProxyID)
	}

	secret := res.Secret
	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = "/" + upstreamPath
			req.Host = target.Host
			req.Header.Del(proxyKeyHeader)
			req.Header.Del(ownerHeader)
			req.Header.Set(provider.Header, provider.Prefix+secret)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn().Err(err).Str("provider", name).Msg("upstream request failed")
			writeProxyError(w, http.StatusBadGateway, "upstream request failed")
		},
	}
	proxy.ServeHTTP(w, r)
}

func writeProxyError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"errors":[%q]}`, msg)
}
