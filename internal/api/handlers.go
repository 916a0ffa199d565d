package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/bayup/wabridge/internal/status"
	"github.com/labstack/echo/v4"
)

type statusResponse struct {
	Status status.State `json:"status"`
}

type qrResponse struct {
	Status status.State `json:"status"`
	Code   string       `json:"code"`
	Image  string       `json:"image"`
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{Status: s.state.Snapshot().State})
}

func (s *Server) getQRJSON(c echo.Context) error {
	snap := s.state.Snapshot()
	resp := qrResponse{Status: snap.State}
	if snap.State == status.AwaitingScan && snap.Artifact != nil {
		resp.Code = snap.Artifact.Code
		resp.Image = snap.Artifact.Image
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getQRImage(c echo.Context) error {
	snap := s.state.Snapshot()
	if snap.State != status.AwaitingScan || snap.Artifact == nil || len(snap.Artifact.PNG) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "No pairing code available")
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/png", snap.Artifact.PNG)
}

func (s *Server) postSend(c echo.Context) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}
	to := strings.TrimSpace(req.To)
	if to == "" || req.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "to and body are required")
	}

	sent, err := bounded(c.Request().Context(), s.opts.SessionTimeout, "send message",
		func(ctx context.Context) (*SentMessage, error) {
			return s.session.SendText(ctx, to, req.Body)
		})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sendResponse{Success: true, Message: sent.Body, ID: sent.ID})
}

func (s *Server) getChats(c echo.Context) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	chats, err := bounded(c.Request().Context(), s.opts.SessionTimeout, "list chats", s.session.ListChats)
	if err != nil {
		return err
	}
	if chats == nil {
		chats = []ChatSummary{}
	}
	return c.JSON(http.StatusOK, chats)
}

func (s *Server) getMessages(c echo.Context) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	limit, err := s.parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}
	chatID := c.Param("id")
	msgs, err := bounded(c.Request().Context(), s.opts.SessionTimeout, "fetch messages",
		func(ctx context.Context) ([]MessageRecord, error) {
			return s.session.ListMessages(ctx, chatID, limit)
		})
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []MessageRecord{}
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) requireReady() error {
	if s.state.Snapshot().State != status.Ready {
		return ErrNotConnected
	}
	return nil
}

// parseLimit applies the default for an empty value and caps the result.
func (s *Server) parseLimit(raw string) (int, error) {
	if raw == "" {
		return s.opts.MessageLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}
	return min(n, s.opts.MaxMessageLimit), nil
}
