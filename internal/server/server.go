// Package server is the HTTP boundary: the JSON record/status API used
// by the LIFF front end and the LINE webhook endpoint.
package server

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/osakana/kintai-bot/internal/attendance"
	"github.com/osakana/kintai-bot/internal/journal"
	"github.com/osakana/kintai-bot/internal/line"
	"github.com/osakana/kintai-bot/internal/notify"
)

// LineGateway is the slice of the LINE client the webhook handler uses.
type LineGateway interface {
	ValidateSignature(body []byte, signature string) bool
	Reply(ctx context.Context, replyToken, text string) error
	GetProfile(ctx context.Context, userID string) (*line.Profile, error)
}

// Journal receives best-effort reconciliation traces.
type Journal interface {
	Append(ctx context.Context, e *journal.Entry) error
}

// Server wires the attendance service to its HTTP surface.
type Server struct {
	svc      attendance.Service
	line     LineGateway
	notifier notify.Notifier
	journal  Journal
	breakURL string
}

// New creates a Server. line, notifier and journal may be nil; the
// corresponding side effects are then skipped.
func New(svc attendance.Service, lineGw LineGateway, notifier notify.Notifier, jnl Journal, breakURL string) *Server {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Server{
		svc:      svc,
		line:     lineGw,
		notifier: notifier,
		journal:  jnl,
		breakURL: breakURL,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())
	r.HandleMethodNotAllowed = true

	r.POST("/api/record", s.handleRecord)
	r.POST("/api/status", s.handleStatus)
	r.POST("/webhook", s.handleWebhook)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}

// requestLog assigns a request ID and logs one line per request.
func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)

		start := time.Now()
		c.Next()
		log.Printf("%s %s status=%d latency=%s rid=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), id)
	}
}

// journalOutcome appends a trace entry, logging instead of failing.
func (s *Server) journalOutcome(ctx context.Context, userID string, out *attendance.Outcome) {
	if s.journal == nil {
		return
	}
	outcome := "updated"
	if out.Created {
		outcome = "created"
	}
	err := s.journal.Append(ctx, &journal.Entry{
		UserID:   userID,
		Action:   string(out.Action),
		DayStart: out.DayStart,
		Outcome:  outcome,
		RecordID: out.RecordID,
	})
	if err != nil {
		log.Printf("journal append failed: %v", err)
	}
}
