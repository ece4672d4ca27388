package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/breqdev/portal-bridge-go/internal/errors"
	"github.com/breqdev/portal-bridge-go/internal/httputil"
	"github.com/breqdev/portal-bridge-go/internal/model"
	"github.com/breqdev/portal-bridge-go/internal/service"
)

type contextKey string

const PortalContextKey contextKey = "portal"

func GetPortal(ctx context.Context) *model.Portal {
	if portal, ok := ctx.Value(PortalContextKey).(*model.Portal); ok {
		return portal
	}
	return nil
}

// PortalAuthMiddleware authenticates external portal clients by portal id
// and secret token.
type PortalAuthMiddleware struct {
	registry *service.Registry
}

func NewPortalAuthMiddleware(registry *service.Registry) *PortalAuthMiddleware {
	return &PortalAuthMiddleware{registry: registry}
}

func (m *PortalAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		portalID := r.Header.Get("X-Portal-ID")
		token := extractToken(r)
		if portalID == "" || token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing portal credentials"))
			return
		}

		portal, err := m.registry.Authenticate(r.Context(), portalID, token)
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeNotFound) ||
				apperrors.HasCode(err, apperrors.ErrCodeUnauthorized) {
				log.Warn().Str("portalId", portalID).Msg("portal auth: invalid credentials")
				httputil.WriteError(w, apperrors.Unauthorized("Invalid portal credentials"))
				return
			}
			log.Error().Err(err).Msg("portal auth: store error")
			httputil.WriteError(w, apperrors.Internal("Authentication failed"))
			return
		}

		ctx := context.WithValue(r.Context(), PortalContextKey, portal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
