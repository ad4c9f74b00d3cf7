package middleware

import (
	"codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimit bounds the number of requests handled at once. A request
// waits for a slot until its context ends, then answers 429.
func ConcurrencyLimit(limit int64) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	sem := semaphore.NewWeighted(limit)
	return func(c *gin.Context) {
		if err := sem.Acquire(c.Request.Context(), 1); err != nil {
			response.AbortWithErrorCode(c, errors.TooManyRequests, "")
			return
		}
		defer sem.Release(1)
		c.Next()
	}
}
