package video

import (
	"errors"
	"net/http"

	"openbroadcast/stream-api/internal"
	"openbroadcast/stream-api/internal/service"
	"openbroadcast/stream-api/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ThumbnailUpload stores the poster of a pending or published video at the
// path its metadata already points to
func ThumbnailUpload(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	if d.Thumbnails == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "Thumbnail storage is disabled",
			"requestID": requestID,
		})
		return
	}

	id := c.Param("id")
	if !service.ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid video ID",
			"requestID": requestID,
		})
		return
	}

	ctx := c.Request.Context()

	known, err := d.Store.VideoExists(ctx, id)
	if err == nil && !known {
		known, err = d.Store.UploadExists(ctx, id)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})
		zap.L().Error("Failed to look up video", zap.Error(err), zap.String("video_id", id))
		return
	}

	if !known {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     "Video not found",
			"requestID": requestID,
		})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		status := http.StatusBadRequest
		msg := "No file provided"
		if middleware.TooLarge(err) {
			status = http.StatusRequestEntityTooLarge
			msg = "Request body size exceeds limit"
		}

		c.JSON(status, gin.H{
			"error":     msg,
			"requestID": requestID,
		})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})
		zap.L().Error("Failed to open multipart file", zap.Error(err))
		return
	}
	defer f.Close()

	err = d.Thumbnails.Put(ctx, id, f)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"key": service.ThumbnailKey(id)})
	case errors.Is(err, service.ErrThumbnailType):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error":     "Thumbnail must be a PNG image",
			"requestID": requestID,
		})
	case errors.Is(err, service.ErrThumbnailSize):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":     "Thumbnail is too large",
			"requestID": requestID,
		})
	case errors.Is(err, service.ErrThumbnailEmpty):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Thumbnail is empty",
			"requestID": requestID,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})
		zap.L().Error("Failed to store thumbnail", zap.Error(err), zap.String("video_id", id))
	}
}
