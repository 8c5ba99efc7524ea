package server

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osakana/kintai-bot/internal/attendance"
	"github.com/osakana/kintai-bot/internal/line"
)

type recordRequest struct {
	UserID      string           `json:"userId"`
	DisplayName string           `json:"displayName"`
	Action      string           `json:"action"`
	BreakTime   int              `json:"breakTime"`
	Location    *locationPayload `json:"location"`
}

type locationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type statusRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleRecord(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "リクエストの形式が不正です。"})
		return
	}

	action, err := attendance.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	ev := attendance.Event{
		UserID:       req.UserID,
		DisplayName:  req.DisplayName,
		Action:       action,
		BreakMinutes: req.BreakTime,
	}
	if req.Location != nil {
		ev.Location = &attendance.LatLng{
			Latitude:  req.Location.Latitude,
			Longitude: req.Location.Longitude,
		}
	}

	out, err := s.svc.Reconcile(c.Request.Context(), ev)
	if err != nil {
		if errors.Is(err, attendance.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "記録に失敗しました: " + err.Error()})
		return
	}

	s.journalOutcome(c.Request.Context(), req.UserID, out)
	if err := s.notifier.Notify(c.Request.Context(), req.UserID, out.Message); err != nil {
		log.Printf("notify failed for %s: %v", req.UserID, err)
	}

	c.JSON(http.StatusOK, gin.H{"message": out.Message})
}

func (s *Server) handleStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "リクエストの形式が不正です。"})
		return
	}

	st, err := s.svc.CurrentStatus(c.Request.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, attendance.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "状態の取得に失敗しました: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"record":     st.Record, // null when nothing is recorded today
		"nextAction": st.NextAction,
	})
}

// handleWebhook processes LINE message events. Aside from a bad
// signature, the endpoint always answers 200: LINE redelivers on
// anything else, and reconciliation is idempotent-by-kind anyway.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "bad body")
		return
	}

	if s.line == nil || !s.line.ValidateSignature(body, c.GetHeader("x-line-signature")) {
		c.String(http.StatusUnauthorized, "invalid signature")
		return
	}

	req, err := line.ParseWebhook(body)
	if err != nil {
		log.Printf("webhook parse failed: %v", err)
		c.String(http.StatusOK, "OK")
		return
	}

	for _, ev := range req.Events {
		s.processWebhookEvent(c, ev)
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) processWebhookEvent(c *gin.Context, ev line.WebhookEvent) {
	if !ev.IsTextMessage() {
		return
	}

	action, err := attendance.ParseAction(ev.Message.Text)
	if err != nil {
		// Not a recording keyword; ignore the message.
		return
	}

	ctx := c.Request.Context()
	userID := ev.Source.UserID

	// Display name only matters on first-seen creation; a failed
	// profile lookup must not block the recording.
	displayName := ""
	if profile, err := s.line.GetProfile(ctx, userID); err != nil {
		log.Printf("profile lookup failed for %s: %v", userID, err)
	} else {
		displayName = profile.DisplayName
	}

	out, err := s.svc.Reconcile(ctx, attendance.Event{
		UserID:      userID,
		DisplayName: displayName,
		Action:      action,
	})
	if err != nil {
		log.Printf("webhook reconcile failed for %s: %v", userID, err)
		return
	}

	s.journalOutcome(ctx, userID, out)

	reply := out.Message
	if action == attendance.ActionEnd && s.breakURL != "" {
		reply += "\nお疲れ様でした。休憩時間を入力する場合は、こちらのリンクからお願いします。\n" + s.breakURL
	}
	if err := s.line.Reply(ctx, ev.ReplyToken, reply); err != nil {
		log.Printf("reply failed for %s: %v", userID, err)
	}
}
