package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys populated by the auth middlewares.
const (
	CtxUserID   = "user_id"
	CtxUsername = "username"
	CtxHouse    = "house"
	CtxIsAdmin  = "is_admin"
)

// Auth validates the Authorization bearer token and stores the identity
// claims in the request context.
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}
		setIdentity(c, strings.TrimPrefix(header, "Bearer "), jwtSecret)
	}
}

// WSAuth validates the token passed as a query parameter, the way browser
// websocket clients have to send it.
func WSAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
			return
		}
		setIdentity(c, strings.TrimPrefix(token, "Bearer "), jwtSecret)
	}
}

// RequireAdmin rejects non-admin callers. Must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(CtxIsAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
			return
		}
		c.Next()
	}
}

func setIdentity(c *gin.Context, tokenString, jwtSecret string) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
		return
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user ID in token"})
		return
	}

	c.Set(CtxUserID, userID)
	if username, ok := claims["username"].(string); ok {
		c.Set(CtxUsername, username)
	}
	if house, ok := claims["house"].(string); ok {
		c.Set(CtxHouse, house)
	}
	if isAdmin, ok := claims["is_admin"].(bool); ok {
		c.Set(CtxIsAdmin, isAdmin)
	}
	c.Next()
}
