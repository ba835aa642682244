package upload

import (
	"net/http"

	"openbroadcast/stream-api/internal"
	"openbroadcast/stream-api/internal/service"
	"openbroadcast/stream-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// UploadCreate registers the upload for the video ID in the id header
func UploadCreate(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	id := c.GetHeader("id")

	var in service.UploadInput
	if err := c.ShouldBindJSON(&in); err != nil {
		if middleware.TooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":     "Request body size exceeds limit",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	session, err := d.Lifecycle.CreateUpload(c.Request.Context(), id, in)
	if err != nil {
		logFailure("Failed to create upload", err, id, requestID)
		c.JSON(statusFor(err), service.NewResult(nil, err))
		return
	}

	c.JSON(http.StatusOK, service.NewResult(session, nil))
}
