package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/walbarellos/Sentinela/internal/server/middleware"
	"github.com/walbarellos/Sentinela/pkg/common"
	pgxstore "github.com/walbarellos/Sentinela/pkg/store/pgx"
)

func GetEntityHandler(c echo.Context) error {
	type getEntityParams struct {
		ID string `param:"id" validate:"required"`
	}

	params := new(getEntityParams)
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

	entity, err := pgxstore.New(conn).GetEntity(ctx, params.ID)
	if errors.Is(err, pgxstore.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, entity)
}

func GetEntityTimelineHandler(c echo.Context) error {
	type getTimelineParams struct {
		ID   string `param:"id" validate:"required"`
		From string `query:"from" validate:"omitempty,datetime=2006-01-02"`
		To   string `query:"to" validate:"omitempty,datetime=2006-01-02"`
	}

	params := new(getTimelineParams)
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

	var from, to time.Time
	if params.From != "" {
		from, _ = time.Parse("2006-01-02", params.From)
	}
	if params.To != "" {
		to, _ = time.Parse("2006-01-02", params.To)
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn

	events, err := pgxstore.New(conn).EntityTimeline(ctx, params.ID, from, to)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if events == nil {
		events = []common.Event{}
	}

	return c.JSON(http.StatusOK, events)
}

func GetEntityGraphHandler(c echo.Context) error {
	type getGraphParams struct {
		ID string `param:"id" validate:"required"`
	}

	type graphResponse struct {
		Entity     common.Entity   `json:"entity"`
		Edges      []common.Edge   `json:"edges"`
		Neighbours []common.Entity `json:"neighbours"`
	}

	params := new(getGraphParams)
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
	st := pgxstore.New(conn)

	entity, err := st.GetEntity(ctx, params.ID)
	if errors.Is(err, pgxstore.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	edges, neighbours, err := st.EntityNeighbours(ctx, entity.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if edges == nil {
		edges = []common.Edge{}
	}
	if neighbours == nil {
		neighbours = []common.Entity{}
	}

	return c.JSON(http.StatusOK, graphResponse{
		Entity:     entity,
		Edges:      edges,
		Neighbours: neighbours,
	})
}
