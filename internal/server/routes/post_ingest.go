package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/walbarellos/Sentinela/internal/queue"
	"github.com/walbarellos/Sentinela/internal/server/middleware"
	"github.com/walbarellos/Sentinela/pkg/common"
)

func PostIngestHandler(c echo.Context) error {
	type postIngestBody struct {
		Records []common.SourceRecord `json:"records" validate:"required,min=1,max=50000,dive"`
	}

	type postIngestResponse struct {
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id,omitempty"`
		Records       int    `json:"records,omitempty"`
	}

	body := new(postIngestBody)
	if err := c.Bind(body); err != nil {
		return c.JSON(http.StatusBadRequest, postIngestResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(body); err != nil {
		return c.JSON(http.StatusBadRequest, postIngestResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, postIngestResponse{
			Message: "Unauthorized",
		})
	}

	correlationID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, postIngestResponse{
			Message: "Internal server error",
		})
	}

	msg := queue.IngestBatchMsg{
		Message:       "Queued ingest batch",
		CorrelationID: correlationID,
		Records:       body.Records,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, postIngestResponse{
			Message: "Internal server error",
		})
	}

	ch := c.(*middleware.AppContext).App.Queue
	if err := queue.PublishFIFO(ch, queue.IngestQueue, msgBytes); err != nil {
		return c.JSON(http.StatusInternalServerError, postIngestResponse{
			Message: "Failed to queue ingest batch",
		})
	}

	return c.JSON(http.StatusAccepted, postIngestResponse{
		Message:       "Ingest batch queued",
		CorrelationID: correlationID,
		Records:       len(body.Records),
	})
}
