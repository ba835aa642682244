// Package video contains the catalog handlers
package video

import (
	"errors"
	"net/http"

	"openbroadcast/stream-api/internal"
	"openbroadcast/stream-api/internal/service"
	"openbroadcast/stream-api/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func VideoFetch(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	id := c.Param("id")
	if !service.ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid video ID",
			"requestID": requestID,
		})
		return
	}

	v, err := d.Store.FindVideo(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "Video not found",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch video from db", zap.Error(err), zap.String("video_id", id))
		return
	}

	c.JSON(http.StatusOK, v)
}
