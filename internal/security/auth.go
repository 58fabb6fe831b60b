package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/model"
)

// urlTokenPattern matches the opaque URL-safe token embedded in the
// token-in-URL transport path.
var urlTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{20,}$`)

// UserDirectory looks up users by the credential shapes the resolver accepts.
// Implementations return (nil, nil) when no matching active user exists.
type UserDirectory interface {
	GetByOpaqueToken(ctx context.Context, token string) (*model.User, error)
	GetByAPIKeyHash(ctx context.Context, keyHash string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// TokenInfo is the result of validating an OAuth access token against the
// external authority (validateAccessToken in the auth surface contract).
type TokenInfo struct {
	Active bool
	UserID string
	Scope  string
}

// AccessTokenValidator validates OAuth session bearer tokens. The OAuth
// provider itself is an external collaborator; this service only consumes it.
type AccessTokenValidator interface {
	Validate(ctx context.Context, token string) (*TokenInfo, error)
}

// Resolver turns a credential into a UserContext, or reports unauthenticated.
// There are no partial results: every return is either a full UserContext or nil.
type Resolver struct {
	users        UserDirectory
	validator    AccessTokenValidator
	apiKeyPrefix string
}

// NewResolver creates a Resolver. validator may be nil when no OAuth authority
// is configured; session bearers are then rejected.
func NewResolver(users UserDirectory, validator AccessTokenValidator, apiKeyPrefix string) *Resolver {
	return &Resolver{users: users, validator: validator, apiKeyPrefix: apiKeyPrefix}
}

// HashAPIKey returns the stored digest for an API key value.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ResolveURLToken resolves the opaque token carried in the URL path.
// Inactive users and malformed tokens resolve to unauthenticated.
func (r *Resolver) ResolveURLToken(ctx context.Context, token string) (*model.UserContext, error) {
	if !urlTokenPattern.MatchString(token) {
		return nil, nil
	}
	user, err := r.users.GetByOpaqueToken(ctx, token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "opaque token lookup failed", err)
	}
	if user == nil || !user.IsActive {
		return nil, nil
	}
	return userContext(user), nil
}

// ResolveBearer resolves an Authorization header value. API keys are
// recognized by prefix; anything else is treated as an OAuth session bearer.
func (r *Resolver) ResolveBearer(ctx context.Context, authorization string) (*model.UserContext, error) {
	raw := strings.TrimPrefix(authorization, "Bearer ")
	if raw == authorization || strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	if strings.HasPrefix(raw, r.apiKeyPrefix) {
		user, err := r.users.GetByAPIKeyHash(ctx, HashAPIKey(raw))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorageFailure, "api key lookup failed", err)
		}
		if user == nil || !user.IsActive {
			return nil, nil
		}
		return userContext(user), nil
	}

	if r.validator == nil {
		return nil, nil
	}
	info, err := r.validator.Validate(ctx, raw)
	if err != nil {
		log.Debug("Access token validation failed", "err", err)
		return nil, nil
	}
	if info == nil || !info.Active || info.UserID == "" {
		return nil, nil
	}
	user, err := r.users.GetByID(ctx, info.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "user lookup failed", err)
	}
	if user == nil || !user.IsActive {
		return nil, nil
	}
	return userContext(user), nil
}

func userContext(user *model.User) *model.UserContext {
	uc := &model.UserContext{
		UserID:      user.ID,
		DisplayName: user.Name,
	}
	if user.Email != nil {
		uc.Email = *user.Email
	}
	return uc
}

// --- context plumbing ---

type userContextKey struct{}

// WithUserContext attaches a resolved principal to the context.
func WithUserContext(ctx context.Context, uc *model.UserContext) context.Context {
	if uc == nil {
		return ctx
	}
	return context.WithValue(ctx, userContextKey{}, uc)
}

// UserContextFrom returns the resolved principal, or nil when unauthenticated.
func UserContextFrom(ctx context.Context) *model.UserContext {
	uc, _ := ctx.Value(userContextKey{}).(*model.UserContext)
	return uc
}
