package handler

import "github.com/gin-gonic/gin"

// detail writes the platform's standard error envelope.
func detail(c *gin.Context, status int, msg any) {
	c.JSON(status, gin.H{"detail": msg})
}

// abortDetail is detail plus request abortion, for middleware.
func abortDetail(c *gin.Context, status int, msg any) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}
