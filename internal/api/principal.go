package api

import (
	"context"
	"net/http"
	"strings"

	"anchor-delivery/internal/apperror"
	"anchor-delivery/internal/dispatch"
)

// PrincipalHeader carries the comma separated capabilities of the signed-in
// user. It is set by the CMS proxy in front of this service.
const PrincipalHeader = "X-Principal-Capabilities"

// CapManageOptions is required for every admin route.
const CapManageOptions = "manage_options"

type principalKey struct{}

// WithPrincipal reads the principal header into the request context.
func WithPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p dispatch.Principal
		for _, c := range strings.Split(r.Header.Get(PrincipalHeader), ",") {
			if c = strings.TrimSpace(c); c != "" {
				p.Capabilities = append(p.Capabilities, c)
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func PrincipalFrom(ctx context.Context) dispatch.Principal {
	p, _ := ctx.Value(principalKey{}).(dispatch.Principal)
	return p
}

// Require rejects requests whose principal lacks capability.
func Require(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !PrincipalFrom(r.Context()).Can(capability) {
				writeError(w, r, apperror.NewAuthorization("missing capability "+capability))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
