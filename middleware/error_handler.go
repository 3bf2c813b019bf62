package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/profilejobs/common"
	"github.com/joshu-sajeev/profilejobs/internal/dispatch"
	"github.com/joshu-sajeev/profilejobs/internal/storage/blob"
	"github.com/joshu-sajeev/profilejobs/internal/storage/postgres"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
)

var errorStatuses = []common.StatusMapping{
	{Err: tracking.ErrJobNotFound, Status: http.StatusNotFound},
	{Err: postgres.ErrProfileNotFound, Status: http.StatusNotFound},
	{Err: blob.ErrObjectNotFound, Status: http.StatusNotFound},
	{Err: postgres.ErrProfileExists, Status: http.StatusConflict},
	{Err: tracking.ErrInvalidJobID, Status: http.StatusBadRequest},
	{Err: dispatch.ErrUnknownJobKind, Status: http.StatusBadRequest},
	{Err: dispatch.ErrDispatchUnavailable, Status: http.StatusServiceUnavailable},
}

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		apiErr := common.ToAPIError(err, errorStatuses)

		if apiErr.Status >= http.StatusInternalServerError {
			slog.Error("request failed", "path", c.FullPath(), "error", err)
		}

		response := gin.H{"error": apiErr.Message}
		if apiErr.Fields != nil {
			response["fields"] = apiErr.Fields
		}
		c.JSON(apiErr.Status, response)
	}
}
