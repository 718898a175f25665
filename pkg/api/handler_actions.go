package api

import (
	"encoding/json"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/store"
)

// UpdateMessageRequest is a partial state update. Snoozed_until must be
// present in the JSON body, even as null, to change the snooze.
type UpdateMessageRequest struct {
	IsRead       *bool      `json:"is_read"`
	IsDone       *bool      `json:"is_done"`
	SnoozedUntil *time.Time `json:"snoozed_until"`
	SnoozeSet    bool       `json:"-"`
}

// UnmarshalJSON detects whether snoozed_until was present at all.
func (r *UpdateMessageRequest) UnmarshalJSON(data []byte) error {
	type alias UpdateMessageRequest
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if err := json.Unmarshal(data, (*alias)(r)); err != nil {
		return err
	}
	_, r.SnoozeSet = probe["snoozed_until"]
	return nil
}

// ReclassifyRequest carries the corrected priority label.
type ReclassifyRequest struct {
	Label string `json:"label"`
}

// SaveDraftRequest carries an edited draft.
type SaveDraftRequest struct {
	Draft string `json:"draft"`
}

// SendReplyRequest carries the reply body. Empty content falls back to
// the stored draft.
type SendReplyRequest struct {
	Content string `json:"content"`
}

// DraftResponse is returned by draft generation.
type DraftResponse struct {
	Draft    string `json:"draft"`
	ToneUsed string `json:"tone_used"`
}

// SendReplyResponse is returned after a successful send.
type SendReplyResponse struct {
	PlatformMessageID string `json:"platform_message_id"`
}

func (s *Server) updateMessageHandler(c *echo.Context) error {
	var req UpdateMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	patch := store.StatePatch{
		IsRead:       req.IsRead,
		IsDone:       req.IsDone,
		SnoozedUntil: req.SnoozedUntil,
		SnoozeSet:    req.SnoozeSet,
	}
	if err := s.actionService.UpdateState(c.Request().Context(), currentUserID(c), c.Param("id"), patch); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) reclassifyHandler(c *echo.Context) error {
	var req ReclassifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	msg, err := s.actionService.Reclassify(c.Request().Context(), currentUserID(c), c.Param("id"), models.PriorityLabel(req.Label))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) generateDraftHandler(c *echo.Context) error {
	result, err := s.actionService.GenerateDraft(c.Request().Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &DraftResponse{Draft: result.Draft, ToneUsed: result.ToneUsed})
}

func (s *Server) saveDraftHandler(c *echo.Context) error {
	var req SaveDraftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.actionService.SaveDraft(c.Request().Context(), currentUserID(c), c.Param("id"), req.Draft); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) sendReplyHandler(c *echo.Context) error {
	var req SendReplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sentID, err := s.actionService.SendReply(c.Request().Context(), currentUserID(c), c.Param("id"), req.Content)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &SendReplyResponse{PlatformMessageID: sentID})
}
