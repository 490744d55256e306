package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/walbarellos/Sentinela/internal/server/middleware"
	pgxstore "github.com/walbarellos/Sentinela/pkg/store/pgx"
)

func GetSummaryHandler(c echo.Context) error {
	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn

	summary, err := pgxstore.New(conn).GetSummary(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, summary)
}
