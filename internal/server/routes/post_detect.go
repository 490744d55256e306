package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/walbarellos/Sentinela/internal/queue"
	"github.com/walbarellos/Sentinela/internal/server/middleware"
)

func PostDetectHandler(c echo.Context) error {
	type postDetectResponse struct {
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, postDetectResponse{
			Message: "Unauthorized",
		})
	}

	correlationID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, postDetectResponse{
			Message: "Internal server error",
		})
	}

	msg := queue.DetectRunMsg{
		Message:       "Queued detector run",
		CorrelationID: correlationID,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, postDetectResponse{
			Message: "Internal server error",
		})
	}

	ch := c.(*middleware.AppContext).App.Queue
	if err := queue.PublishFIFO(ch, queue.DetectQueue, msgBytes); err != nil {
		return c.JSON(http.StatusInternalServerError, postDetectResponse{
			Message: "Failed to queue detector run",
		})
	}

	return c.JSON(http.StatusAccepted, postDetectResponse{
		Message:       "Detector run queued",
		CorrelationID: correlationID,
	})
}
