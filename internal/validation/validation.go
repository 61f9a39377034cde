// Package validation provides input validation middleware for the PullPay API.
package validation

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// hex32Regex matches 32-byte hex values: identities and record addresses.
var hex32Regex = regexp.MustCompile(`^(0x|0X)?[a-fA-F0-9]{64}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidHex32 checks if a string is a 64-character hex value,
// optionally 0x-prefixed.
func IsValidHex32(s string) bool {
	return hex32Regex.MatchString(s)
}

// identityParams are the URL parameters that carry 32-byte hex values.
var identityParams = []string{"address", "token", "identity", "holder", "account"}

// HexParamMiddleware validates identity and address URL parameters on
// routes that use them, rejecting malformed values before any handler
// runs. A no-op on routes without these params.
func HexParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range identityParams {
			if v := c.Param(name); v != "" && !IsValidHex32(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_" + name,
					"message": name + " must be a 64-character hex value",
				})
				return
			}
		}
		c.Next()
	}
}
