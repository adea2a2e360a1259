package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halvard/relay/internal/api/response"
	"github.com/halvard/relay/internal/model"
)

type contextKey string

const environmentKey contextKey = "environment"

// EnvironmentFromContext returns the authenticated environment, or nil when
// the request did not pass through Auth.
func EnvironmentFromContext(ctx context.Context) *model.Environment {
	env, _ := ctx.Value(environmentKey).(*model.Environment)
	return env
}

// WithEnvironment attaches an environment to the context. Exposed for
// handler tests.
func WithEnvironment(ctx context.Context, env *model.Environment) context.Context {
	return context.WithValue(ctx, environmentKey, env)
}

// Auth validates the bearer token against environment API keys and attaches
// the resolved environment to the request context.
func Auth(pool *pgxpool.Pool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			key, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			hash := sha256.Sum256([]byte(key))
			keyHash := hex.EncodeToString(hash[:])

			var env model.Environment
			err := pool.QueryRow(r.Context(),
				`SELECT id, organization_id, slug, created_at, updated_at FROM environments WHERE api_key_hash = $1`,
				keyHash,
			).Scan(&env.ID, &env.OrganizationID, &env.Slug, &env.CreatedAt, &env.UpdatedAt)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithEnvironment(r.Context(), &env)))
		})
	}
}
