package video

import (
	"errors"
	"net/http"

	"openbroadcast/stream-api/internal"
	"openbroadcast/stream-api/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GenerateID hands out a video ID nobody is using yet
func GenerateID(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	id, err := d.IDs.Generate(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrIDSpaceExhausted) {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"error":     "Failed to generate a video ID",
			"requestID": requestID,
		})

		zap.L().Error("Failed to generate video id", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}
