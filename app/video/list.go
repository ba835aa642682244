package video

import (
	"net/http"
	"strconv"

	"openbroadcast/stream-api/internal"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxPageSize = 250

// VideoList returns a page of the catalog, newest first
func VideoList(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Page must be a number",
			"requestID": requestID,
		})
		return
	}

	if page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Page can't be negative",
			"requestID": requestID,
		})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Limit must be a number",
			"requestID": requestID,
		})
		return
	}

	if limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Limit must be greater than 0",
			"requestID": requestID,
		})
		return
	}

	if limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Limit must be smaller than 250",
			"requestID": requestID,
		})
		return
	}

	entries, err := d.Store.PageVideos(c.Request.Context(), page*limit, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})
		zap.L().Error("Failed to list videos", zap.Error(err))
		return
	}

	c.JSON(http.StatusOK, entries)
}
