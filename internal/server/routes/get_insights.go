package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/walbarellos/Sentinela/internal/server/middleware"
	"github.com/walbarellos/Sentinela/internal/storage"
	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/store"
	pgxstore "github.com/walbarellos/Sentinela/pkg/store/pgx"
)

func GetInsightsHandler(c echo.Context) error {
	type getInsightsParams struct {
		Severity string `query:"severity" validate:"omitempty,oneof=CRITICO ALTO MEDIO BAIXO"`
		Kind     string `query:"kind"`
		Tag      string `query:"tag"`
		EntityID string `query:"entity_id"`
		RunID    string `query:"run_id"`
		Since    string `query:"since" validate:"omitempty,datetime=2006-01-02"`
		Until    string `query:"until" validate:"omitempty,datetime=2006-01-02"`
		Limit    int    `query:"limit" validate:"omitempty,min=1,max=500"`
	}

	params := new(getInsightsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn

	limit := params.Limit
	if limit == 0 {
		limit = 100
	}

	var since, until time.Time
	if params.Since != "" {
		since, _ = time.Parse("2006-01-02", params.Since)
	}
	if params.Until != "" {
		until, _ = time.Parse("2006-01-02", params.Until)
	}

	insights, err := pgxstore.New(conn).QueryInsights(ctx, store.InsightFilter{
		Severity: common.Severity(params.Severity),
		Kind:     params.Kind,
		Tag:      params.Tag,
		EntityID: params.EntityID,
		RunID:    params.RunID,
		Since:    since,
		Until:    until,
		Limit:    limit,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if insights == nil {
		insights = []common.Insight{}
	}

	return c.JSON(http.StatusOK, insights)
}

func GetInsightEvidenceHandler(c echo.Context) error {
	type getEvidenceParams struct {
		InsightID string `param:"id" validate:"required"`
	}

	type evidenceResponse struct {
		common.Evidence
		DownloadURL string `json:"download_url,omitempty"`
	}

	params := new(getEvidenceParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn

	evidence, err := pgxstore.New(conn).EvidenceForInsight(ctx, params.InsightID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if len(evidence) == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Insight not found"})
	}

	// Raw payload links only for collaborators cleared to download them.
	canDownload := middleware.HasPermission(user, "evidence.download")
	s3Client := c.(*middleware.AppContext).App.S3

	resp := make([]evidenceResponse, 0, len(evidence))
	for _, ev := range evidence {
		item := evidenceResponse{Evidence: ev}
		if canDownload && s3Client != nil {
			if url, err := storage.GenerateDownloadLink(ctx, s3Client, ev.ContentSHA256); err == nil {
				item.DownloadURL = url
			}
		}
		resp = append(resp, item)
	}

	return c.JSON(http.StatusOK, resp)
}
