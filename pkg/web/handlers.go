package web

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/capture"
	"github.com/teslashibe/go-palm/pkg/history"
	"github.com/teslashibe/go-palm/pkg/hub"
	"github.com/teslashibe/go-palm/pkg/protocol"
	"github.com/teslashibe/go-palm/pkg/session"
	"github.com/teslashibe/go-palm/pkg/store"
)

// StartRequest is the body of /start_register and /start_match.
type StartRequest struct {
	UserID string `json:"user_id"`
}

// StartResponse acknowledges a started session.
type StartResponse struct {
	Status    string        `json:"status"`
	Mode      protocol.Mode `json:"mode"`
	User      string        `json:"user"`
	SessionID string        `json:"session_id"`
}

// SessionView is the JSON form of a running session.
type SessionView struct {
	ID        string        `json:"id"`
	Mode      protocol.Mode `json:"mode"`
	SubjectID string        `json:"subject_id"`
	StartedAt time.Time     `json:"started_at"`
}

// ResultView is the JSON form of a finished session.
type ResultView struct {
	SessionID  string        `json:"session_id"`
	Mode       protocol.Mode `json:"mode"`
	SubjectID  string        `json:"subject_id"`
	Outcome    string        `json:"outcome"`
	Confidence float64       `json:"confidence"`
	Ticks      int           `json:"ticks"`
	DurationMs int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
}

// StatusResponse is returned by /api/status.
type StatusResponse struct {
	Active     bool                  `json:"active"`
	Session    *SessionView          `json:"session,omitempty"`
	LastEvent  *protocol.StatusEvent `json:"last_event,omitempty"`
	LastResult *ResultView           `json:"last_result,omitempty"`
}

func newSessionView(s capture.Session) *SessionView {
	return &SessionView{
		ID:        s.ID,
		Mode:      s.Mode.Wire(),
		SubjectID: s.SubjectID,
		StartedAt: s.StartedAt,
	}
}

func newResultView(r capture.Result) *ResultView {
	v := &ResultView{
		SessionID:  r.SessionID,
		Mode:       r.Mode.Wire(),
		SubjectID:  r.SubjectID,
		Outcome:    r.Outcome.String(),
		Confidence: r.Confidence,
		Ticks:      r.Ticks,
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

// handleStart starts a session in the given mode. The body is optional.
func (s *Server) handleStart(mode capture.Mode) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req StartRequest
		if body := c.Body(); len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
			}
		}

		sess, err := s.opts.Sessions.Start(mode, req.UserID)
		switch {
		case errors.Is(err, store.ErrInvalidSubject):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrClosed):
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		case err != nil:
			return err
		}

		log.Info("session started", "session", sess.ID, "mode", mode.String(), "subject", sess.SubjectID)

		return c.JSON(StartResponse{
			Status:    "started",
			Mode:      mode.Wire(),
			User:      sess.SubjectID,
			SessionID: sess.ID,
		})
	}
}

// handleStop cancels the active session, if any
func (s *Server) handleStop(c *fiber.Ctx) error {
	if s.opts.Sessions.Stop() {
		return c.JSON(fiber.Map{"status": "stopped"})
	}
	return c.JSON(fiber.Map{"status": "idle"})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":      "ok",
		"hub_running": s.opts.Status.IsRunning(),
		"subscribers": s.opts.Status.ClientCount(),
		"dropped":     s.opts.Status.Dropped(),
	}
	if r := s.opts.Probe; r != nil {
		resp["probe"] = fiber.Map{
			"nodes":    r.Nodes(),
			"readings": r.Received(),
		}
	}
	return c.JSON(resp)
}

// handleStatus returns the active session and the latest event and result
func (s *Server) handleStatus(c *fiber.Ctx) error {
	var resp StatusResponse

	if sess, ok := s.opts.Sessions.Active(); ok {
		resp.Active = true
		resp.Session = newSessionView(sess)
	}
	if ev, ok := s.opts.Status.Last(); ok {
		resp.LastEvent = &ev
	}
	if res, ok := s.opts.Sessions.Last(); ok {
		resp.LastResult = newResultView(res)
	}

	return c.JSON(resp)
}

func (s *Server) handleListSubjects(c *fiber.Ctx) error {
	ids, err := s.opts.Subjects.List()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"subjects": ids})
}

func (s *Server) handleDeleteSubject(c *fiber.Ctx) error {
	id := c.Params("id")

	err := s.opts.Subjects.Delete(id)
	switch {
	case errors.Is(err, store.ErrInvalidSubject):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case err != nil:
		return err
	}

	// The reference is already gone, so a failed prune is only logged
	var removed int64
	if s.opts.History != nil {
		removed, err = s.opts.History.DeleteSubject(c.UserContext(), id)
		if err != nil {
			log.Warn("failed to prune subject history", "subject", id, log.Err(err))
		}
	}

	log.Info("subject deleted", "subject", id, "history_removed", removed)
	return c.JSON(fiber.Map{"status": "deleted", "user": id, "history_removed": removed})
}

// handleHistory returns recent sessions, newest first
func (s *Server) handleHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be positive")
	}

	f := history.Filter{
		SubjectID: c.Query("user"),
		Outcome:   c.Query("outcome"),
		Limit:     limit,
	}
	if q := c.Query("mode"); q != "" {
		mode, ok := capture.ParseMode(q)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "unknown mode "+q)
		}
		f.Mode = string(mode.Wire())
	}

	entries, err := s.opts.History.Recent(c.UserContext(), f)
	if err != nil {
		return err
	}

	counts, err := s.opts.History.Counts(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"sessions": entries, "counts": counts})
}

func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	cfg, err := s.opts.Camera.GetConfigJSON()
	if err != nil {
		return err
	}
	return c.JSON(cfg)
}

// handleUpdateCamera applies a partial camera config; it takes effect on
// the next session.
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	var params map[string]any
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := s.opts.Camera.UpdateConfig(params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return s.handleGetCamera(c)
}

// handleStatusWS streams status events to one listener
func (s *Server) handleStatusWS(c *websocket.Conn) {
	hub.NewClient(s.opts.Status, c).Run()
}
