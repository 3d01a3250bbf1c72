package server

import (
	"github.com/gin-gonic/gin"
)

// Stable machine-readable error codes. Clients dispatch on these, the message
// is for humans only. Internal store errors never leak into messages.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeDepositFailed      = "DEPOSIT_FAILED"
	CodeServerError        = "SERVER_ERROR"
	CodeWithdrawDeprecated = "WITHDRAW_DEPRECATED"
	CodeRateLimited        = "RATE_LIMITED"
)

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code string, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": msg})
}
