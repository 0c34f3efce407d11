package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"recipe-assistant/internal/agent"
	"recipe-assistant/internal/conversation"

	"github.com/labstack/echo/v4"
)

// ChatHandler streams agent runs as server-sent events.
type ChatHandler struct {
	Runner ChatRunner
	Log    *log.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
}

// chat accepts {"messages":[...]} and answers with one "data:" frame per agent
// event, terminated by "data: [DONE]".
func (h *ChatHandler) chat(c echo.Context) error {
	var conv conversation.Conversation
	if err := json.NewDecoder(c.Request().Body).Decode(&conv); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if err := conv.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	emit := func(ev agent.Event) error {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(res, "data: %s\n\n", b); err != nil {
			return err
		}
		res.Flush()
		return nil
	}

	result, err := h.Runner.Run(c.Request().Context(), &conv, emit)
	if err != nil {
		// The finish event already carries the error reason.
		h.Log.Printf("Chat run failed after %d steps: %v", result.Steps, err)
	}
	if result.Finish != agent.FinishCancelled {
		_, _ = fmt.Fprint(res, "data: [DONE]\n\n")
		res.Flush()
	}
	return nil
}
