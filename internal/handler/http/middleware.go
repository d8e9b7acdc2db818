package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gearhive/cart-service/internal/domain"
	"github.com/gearhive/cart-service/pkg/httputil"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

// ownerKey is the context key for the resolved cart owner.
const ownerKey contextKey = "cart_owner"

// OwnerResolver resolves the cart owner for each request: a valid Bearer
// token makes the caller an authenticated customer, otherwise the X-Guest-ID
// header identifies a guest session. Requests carrying neither are rejected.
type OwnerResolver struct {
	jwtSecret []byte
}

// NewOwnerResolver creates an owner resolver with the given JWT signing secret.
func NewOwnerResolver(jwtSecret string) *OwnerResolver {
	return &OwnerResolver{jwtSecret: []byte(jwtSecret)}
}

// Middleware resolves the owner and stores it in the request context.
func (o *OwnerResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := o.resolve(r)
		if err != nil {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: err.Error()},
			})
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCustomer rejects guest sessions. It must run after Middleware.
func RequireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromContext(r.Context())
		if !ok || !owner.Authenticated() {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: "authentication required"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (o *OwnerResolver) resolve(r *http.Request) (domain.Owner, error) {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		token, found := strings.CutPrefix(auth, "Bearer ")
		if !found {
			return domain.Owner{}, fmt.Errorf("authorization header must use the Bearer scheme")
		}
		sub, err := o.parseSubject(token)
		if err != nil {
			return domain.Owner{}, fmt.Errorf("invalid token: %w", err)
		}
		return domain.CustomerOwner(sub), nil
	}

	if guestID := r.Header.Get("X-Guest-ID"); guestID != "" {
		if !domain.ValidGuestID(guestID) {
			return domain.Owner{}, fmt.Errorf("malformed X-Guest-ID header")
		}
		return domain.GuestOwner(guestID), nil
	}

	return domain.Owner{}, fmt.Errorf("a Bearer token or X-Guest-ID header is required")
}

// parseSubject verifies the token signature and extracts the subject claim.
func (o *OwnerResolver) parseSubject(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return o.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// ownerFromContext extracts the resolved owner from the request context.
func ownerFromContext(ctx context.Context) (domain.Owner, bool) {
	owner, ok := ctx.Value(ownerKey).(domain.Owner)
	return owner, ok && owner.ID != ""
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
