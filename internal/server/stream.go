package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"akash-router/internal/models"
	"akash-router/internal/provider"
	"akash-router/internal/router"
	"akash-router/internal/translator"
)

// streamChat relays an upstream stream as SSE. Once the event stream has
// started, failures can only be reported as content chunks.
func (s *Server) streamChat(c echo.Context, req models.ChatRequest, ov router.Overrides) error {
	ctx := c.Request().Context()

	body, model, err := s.router.ChatStream(ctx, req, ov)
	if errors.Is(err, provider.ErrUnknownModel) {
		return toHTTPError(err)
	}

	if rcErr := http.NewResponseController(c.Response().Writer).SetWriteDeadline(time.Time{}); rcErr != nil {
		slog.Debug("stream write deadline not cleared", "err", rcErr)
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	st := translator.NewStreamTranslator(c.Response(), model)

	if err != nil {
		slog.Warn("upstream stream failed before any bytes", "model", model, "err", err)
		if failErr := st.Fail(streamErrorMessage(err)); failErr != nil {
			slog.Debug("write stream error chunk", "err", failErr)
		}
		return nil
	}
	defer body.Close()

	if err := st.Pipe(ctx, body, s.cfg.Stream.ChunkSize); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("client disconnected mid-stream", "id", st.ID())
			return nil
		}
		slog.Warn("stream relay ended with error", "id", st.ID(), "err", err)
		return nil
	}

	slog.Debug("stream complete", "id", st.ID(), "model", model, "chars", len(st.Text()))
	return nil
}

func streamErrorMessage(err error) string {
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("Error: %d %s", statusErr.Code, statusErr.Body)
	}
	return fmt.Sprintf("Error: %v", err)
}
