package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/walbarellos/Sentinela/internal/server/middleware"
	"github.com/walbarellos/Sentinela/pkg/common"
	pgxstore "github.com/walbarellos/Sentinela/pkg/store/pgx"
)

func GetRunsHandler(c echo.Context) error {
	type getRunsParams struct {
		Limit int `query:"limit" validate:"omitempty,min=1,max=100"`
	}

	params := new(getRunsParams)
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

	runs, err := pgxstore.New(conn).ListRuns(ctx, params.Limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if runs == nil {
		runs = []common.PipelineRun{}
	}

	return c.JSON(http.StatusOK, runs)
}

func GetRunHandler(c echo.Context) error {
	type getRunParams struct {
		ID string `param:"id" validate:"required"`
	}

	params := new(getRunParams)
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

	run, err := pgxstore.New(conn).GetRun(ctx, params.ID)
	if errors.Is(err, pgxstore.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Run not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, run)
}
