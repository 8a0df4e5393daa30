package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/models"
	"shea-order-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	actorKey        = "actor"
	sessionHeader   = "X-Session-ID"
	authHeader      = "Authorization"
	idempotencyHdr  = "Idempotency-Key"
	bearerPrefix    = "Bearer"
	defaultTokenTTL = 24 * time.Hour
)

// Claims carried by access tokens. The subject is the user id.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 access token for a user
func IssueToken(secret, userID, role, email string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := time.Now()
	claims := Claims{
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// authenticate resolves the caller. A bearer token becomes a user actor;
// without one the caller is a guest identified by the session header.
// A token that is present but invalid is rejected.
func authenticate(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := models.Actor{SessionID: strings.TrimSpace(c.GetHeader(sessionHeader))}

		raw := strings.TrimSpace(c.GetHeader(authHeader))
		if raw != "" {
			parts := strings.Split(raw, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], bearerPrefix) {
				abortWithError(c, apperr.ErrUnauthorized.Withf("invalid token format"))
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid || claims.Subject == "" {
				abortWithError(c, apperr.ErrUnauthorized.Withf("invalid token"))
				return
			}

			actor.UserID = claims.Subject
			actor.Role = claims.Role
			actor.Email = claims.Email
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// requireAdmin rejects guests with 401 and non-admin users with 403
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		if actor.IsGuest() {
			abortWithError(c, apperr.ErrUnauthorized)
			return
		}
		if !actor.IsAdmin() {
			abortWithError(c, apperr.ErrForbidden)
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}

// statusFor maps an error code to its HTTP status
func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict, apperr.CodeInsufficientStock:
		return http.StatusConflict
	case apperr.CodeInvalidState:
		return http.StatusUnprocessableEntity
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	msg := err.Error()
	if code == apperr.CodeInternal {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		msg = "internal error"
	}
	c.AbortWithStatusJSON(statusFor(code), gin.H{
		"error": msg,
		"code":  apperr.ReasonOf(err),
	})
}
