package upload

import (
	"net/http"

	"openbroadcast/stream-api/internal"
	"openbroadcast/stream-api/internal/service"

	"github.com/gin-gonic/gin"
)

// UploadCapture promotes the upload in the id header once the client
// proves it holds the upload credential
func UploadCapture(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	id := c.GetHeader("id")

	_, err := d.Lifecycle.CaptureUpload(c.Request.Context(), id, c.GetHeader("signatureHash"))
	if err != nil {
		logFailure("Failed to capture upload", err, id, requestID)
		c.JSON(statusFor(err), service.NewResult(nil, err))
		return
	}

	c.JSON(http.StatusOK, service.Result{Success: true})
}
