package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"taskboard/internal/engine/auth"
)

type AuthConfig struct {
	AllowLegacyActorHeader bool
	DevLogin               bool
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.ActorID = p.ActorID
	}
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (auth.Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p, nil
	}
	return auth.Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// openPaths lists the routes reachable without credentials.
func openPaths(basePath string, cfg AuthConfig) map[string]bool {
	return map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): cfg.DevLogin,
	}
}

// newAuthMiddleware rejects unauthenticated requests under basePath before any
// operation runs. Health and dev login stay open.
func newAuthMiddleware(basePath string, cfg AuthConfig, svc auth.Service, logger *zap.Logger) func(http.Handler) http.Handler {
	open := openPaths(basePath, cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			legacyActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			var (
				principal auth.Principal
				err       error
			)
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err = svc.AuthenticateJWT(token)
			case apiKeyHeader != "":
				principal, err = svc.AuthenticateAPIKey(req.Context(), apiKeyHeader)
			case legacyActor != "" && cfg.AllowLegacyActorHeader:
				logger.Warn("legacy X-Actor-Id header used without credentials; ignored when Authorization or X-Api-Key is present",
					zap.String("actor_id", legacyActor))
				principal = auth.Principal{ActorID: legacyActor, Source: auth.SourceLegacyHeader}
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if err != nil {
				logger.Debug("authentication failed", zap.String("path", req.URL.Path), zap.Error(err))
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
