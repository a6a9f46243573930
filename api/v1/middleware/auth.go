package middleware

import (
	"errors"
	"strconv"
	"strings"

	"fleetd/internal/auth"
	"fleetd/internal/httpx"
	"fleetd/internal/registry"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthRequired is a middleware that validates an operator JWT token
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httpx.FailErr(c, httpx.ErrUnauthorized("missing authorization header"))
			c.Abort()
			return
		}

		// Check Bearer prefix
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httpx.FailErr(c, httpx.ErrUnauthorized("invalid authorization header format"))
			c.Abort()
			return
		}

		tokenString := parts[1]

		// Parse and validate token
		claims, err := auth.ParseOperatorToken(tokenString)
		if err != nil {
			// Determine error type
			if errors.Is(err, jwt.ErrTokenExpired) {
				httpx.FailErr(c, httpx.ErrTokenExpired("token expired"))
			} else {
				httpx.FailErr(c, httpx.ErrInvalidToken("invalid token"))
			}
			c.Abort()
			return
		}

		// Set user info in context
		c.Set("uid", claims.UID)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// DeviceAuth is a middleware that resolves a device from its id and
// per-device token. A mismatch is a 401; the device must re-register to
// obtain a fresh token.
func DeviceAuth(reg *registry.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID, err := strconv.Atoi(c.GetHeader("X-Device-Id"))
		if err != nil || deviceID <= 0 {
			httpx.FailErr(c, httpx.ErrUnauthorized("missing or invalid device id header"))
			c.Abort()
			return
		}

		token := c.GetHeader("X-Device-Token")
		device, err := reg.Authenticate(c.Request.Context(), deviceID, token)
		if err != nil {
			if errors.Is(err, registry.ErrDeviceNotFound) || errors.Is(err, registry.ErrTokenMismatch) {
				httpx.FailErr(c, httpx.ErrUnauthorized("unknown device or token mismatch"))
			} else {
				httpx.FailErr(c, httpx.ErrDatabaseError("failed to authenticate device", err))
			}
			c.Abort()
			return
		}

		c.Set("device", device)
		c.Next()
	}
}
