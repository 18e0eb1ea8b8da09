package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/diamond_layer/internal/config"
	"github.com/R3E-Network/diamond_layer/internal/diamond"
	"github.com/R3E-Network/diamond_layer/internal/logging"
)

// ErrUnauthenticated is returned for a missing or invalid bearer token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims are the bearer token claims. Subject is the sender handle, either
// 0x little-endian hex or a Neo address.
type Claims struct {
	AuthMethod string `json:"auth_method,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves the sender of a request from an RS256 bearer token.
// With TrustSenderHeader set it also accepts X-Diamond-Sender unverified,
// which is only meant for local development.
type Authenticator struct {
	publicKey         interface{}
	trustSenderHeader bool
	logger            *logging.Logger
}

// NewAuthenticator creates an authenticator verifying tokens with publicKey.
// A nil key rejects every token.
func NewAuthenticator(publicKey interface{}, trustSenderHeader bool, logger *logging.Logger) *Authenticator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Authenticator{publicKey: publicKey, trustSenderHeader: trustSenderHeader, logger: logger}
}

// LoadPublicKey reads a PEM encoded RSA public key.
func LoadPublicKey(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	return key, nil
}

// Handler attaches the authenticated sender to the request context.
// Requests without credentials proceed anonymously with the zero sender,
// which the diamond's authorizer rejects for cuts.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				a.reject(w, r, fmt.Errorf("%w: invalid Authorization header format", ErrUnauthenticated))
				return
			}
			claims, err := a.validateToken(parts[1])
			if err != nil {
				a.reject(w, r, err)
				return
			}
			sender, err := config.ParseHandle(claims.Subject)
			if err != nil {
				a.reject(w, r, fmt.Errorf("%w: subject: %v", ErrUnauthenticated, err))
				return
			}
			a.logger.WithFields(map[string]interface{}{
				"sender":      "0x" + sender.StringLE(),
				"auth_method": claims.AuthMethod,
			}).Debug("authentication successful")
			next.ServeHTTP(w, r.WithContext(diamond.WithSender(ctx, sender)))
			return
		}

		if s := r.Header.Get(HeaderSender); s != "" && a.trustSenderHeader {
			sender, err := config.ParseHandle(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s: %w", HeaderSender, err))
				return
			}
			ctx = diamond.WithSender(ctx, sender)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) validateToken(tokenString string) (*Claims, error) {
	if a.publicKey == nil {
		return nil, fmt.Errorf("%w: token authentication is not configured", ErrUnauthenticated)
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}
	return claims, nil
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"error":  err.Error(),
	})
	writeError(w, http.StatusUnauthorized, err)
}
