package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/researchflow/internal/stream"
)

const defaultReplayListLimit = 50

func (s *Server) listReplays(c echo.Context) error {
	limit := defaultReplayListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	replays, err := s.Summaries.ListReplays(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"replays": replays})
}

// getReplay serves the recorded event stream of a finished or suspended
// thread. The denormalized copy in the summary store wins; threads that
// never finished fall back to the checkpoint event log.
func (s *Server) getReplay(c echo.Context) error {
	threadID := c.Param("thread_id")

	events, ok, err := s.Summaries.GetChatStream(c.Request().Context(), threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ok {
		return c.Blob(http.StatusOK, "text/event-stream", events)
	}

	replayed, err := stream.Replay(c.Request().Context(), s.Checkpoints, threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(replayed) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no replay for thread "+threadID)
	}
	var b strings.Builder
	for _, ev := range replayed {
		if err := stream.EncodeSSE(&b, ev); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.Blob(http.StatusOK, "text/event-stream", []byte(b.String()))
}
