package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wesleylin/BatchGenPro/pkg/jwt"
)

const (
	// ContextUserIDKey 登录用户ID在 gin.Context 中的key
	ContextUserIDKey = "userID"
	// ContextUsernameKey 登录用户名在 gin.Context 中的key
	ContextUsernameKey = "username"
)

// getTokenFromRequest 从 Authorization: Bearer <token> 提取token，
// 兼容 X-Auth-Token 头
func getTokenFromRequest(c *gin.Context) string {
	authHeader := c.Request.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return authHeader[7:]
	}
	return c.Request.Header.Get("X-Auth-Token")
}

// JWTAuthMiddleware 要求登录，token 无效直接 401
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := getTokenFromRequest(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "未提供认证token，请先登录",
			})
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "token无效或已过期，请重新登录",
			})
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextUsernameKey, claims.Username)
		c.Next()
	}
}

// OptionalAuthMiddleware 提供了有效 token 就注入用户信息，否则继续匿名执行
func OptionalAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := getTokenFromRequest(c); token != "" {
			if claims, err := jwt.ParseToken(token); err == nil {
				c.Set(ContextUserIDKey, claims.UserID)
				c.Set(ContextUsernameKey, claims.Username)
			}
		}
		c.Next()
	}
}

// CurrentUserID 返回当前登录用户ID，匿名时 ok 为 false
func CurrentUserID(c *gin.Context) (uint64, bool) {
	v, exists := c.Get(ContextUserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := v.(uint64)
	return userID, ok
}
