package http

import (
	"net/http"
	"path/filepath"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/app/orch"
	"github.com/dkeye/Livecall/internal/domain"
)

type handlers struct {
	orch       *orch.Orchestrator
	staticPath string
}

// Cookie session keys for the session page the caller last opened.
const (
	sessKeySession = "session_id"
	sessKeyRole    = "role"
)

type MeResponse struct {
	User      domain.User      `json:"user"`
	SessionID domain.SessionID `json:"session_id,omitempty"`
	Role      domain.Role      `json:"role,omitempty"`
}

func (h *handlers) me(c *gin.Context) {
	u, err := h.orch.Me(c.Request.Context(), caller(c))
	if err != nil {
		writeError(c, err)
		return
	}
	resp := MeResponse{User: u}
	s := sessions.Default(c)
	if v, ok := s.Get(sessKeySession).(string); ok {
		resp.SessionID = domain.SessionID(v)
	}
	if v, ok := s.Get(sessKeyRole).(string); ok {
		resp.Role = domain.Role(v)
	}
	c.JSON(http.StatusOK, resp)
}

type ProfileRequest struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

func (h *handlers) updateMe(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	u, err := h.orch.UpdateProfile(c.Request.Context(), caller(c), req.Username, req.AvatarURL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MeResponse{User: u})
}

type PresenceRequest struct {
	IsOnline *bool `json:"isOnline" binding:"required"`
}

func (h *handlers) presence(c *gin.Context) {
	var req PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := h.orch.ReportPresence(c.Request.Context(), caller(c), *req.IsOnline); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) joinQueue(c *gin.Context) {
	e, err := h.orch.JoinQueue(c.Request.Context(), caller(c), domain.UserID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type QueueResponse struct {
	Entries []domain.QueueEntry `json:"entries"`
}

func (h *handlers) listQueue(c *gin.Context) {
	entries, err := h.orch.Queue(c.Request.Context(), caller(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.QueueEntry{}
	}
	c.JSON(http.StatusOK, QueueResponse{Entries: entries})
}

type CountResponse struct {
	Count int `json:"count"`
}

func (h *handlers) queueCount(c *gin.Context) {
	n, err := h.orch.QueueCount(c.Request.Context(), caller(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: n})
}

type FanStateRequest struct {
	FanState domain.FanState `json:"fan_state" binding:"required"`
}

func (h *handlers) setFanState(c *gin.Context) {
	var req FanStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	e, err := h.orch.SetFanState(c.Request.Context(), caller(c), domain.QueueEntryID(c.Param("id")), req.FanState)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *handlers) leaveQueue(c *gin.Context) {
	if err := h.orch.LeaveQueue(c.Request.Context(), caller(c), domain.QueueEntryID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type CreateSessionRequest struct {
	QueueEntryID domain.QueueEntryID `json:"queue_entry_id" binding:"required"`
}

type CreateSessionResponse struct {
	SessionID domain.SessionID `json:"session_id"`
}

// createSession is the atomic session-creation RPC.
func (h *handlers) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	sess, err := h.orch.CreateSession(c.Request.Context(), caller(c), req.QueueEntryID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, CreateSessionResponse{SessionID: sess.ID})
}

func (h *handlers) getSession(c *gin.Context) {
	sess, err := h.orch.Session(c.Request.Context(), caller(c), domain.SessionID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *handlers) endSession(c *gin.Context) {
	sess, err := h.orch.EndSession(c.Request.Context(), caller(c), domain.SessionID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	s := sessions.Default(c)
	if v, _ := s.Get(sessKeySession).(string); v == string(sess.ID) {
		s.Delete(sessKeySession)
		s.Delete(sessKeyRole)
		if err := s.Save(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
		}
	}
	c.JSON(http.StatusOK, sess)
}

type InviteResponse struct {
	Invite domain.SessionInvite `json:"invite"`
}

// pendingInvite answers the cold-start query; 204 means nothing pending.
func (h *handlers) pendingInvite(c *gin.Context) {
	inv, ok, err := h.orch.PendingInvite(c.Request.Context(), caller(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, InviteResponse{Invite: inv})
}

type InviteStatusRequest struct {
	Status domain.InviteStatus `json:"status" binding:"required"`
}

func (h *handlers) answerInvite(c *gin.Context) {
	var req InviteStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	inv, err := h.orch.AnswerInvite(c.Request.Context(), caller(c), domain.InviteID(c.Param("id")), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InviteResponse{Invite: inv})
}

// sessionPage serves the call page. Each participant may only open the
// session in their own role.
func (h *handlers) sessionPage(c *gin.Context) {
	role := domain.Role(c.Query("role"))
	if !role.Valid() {
		badRequest(c)
		return
	}
	sess, err := h.orch.Session(c.Request.Context(), caller(c), domain.SessionID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	me := caller(c)
	if (role == domain.RoleCreator && me != sess.CreatorID) || (role == domain.RoleUser && me != sess.FanID) {
		writeError(c, domain.ErrForbidden)
		return
	}
	if sess.Status == domain.SessionEnded {
		c.JSON(http.StatusGone, ErrorResponse{Error: CodeGone})
		return
	}

	s := sessions.Default(c)
	s.Set(sessKeySession, string(sess.ID))
	s.Set(sessKeyRole, string(role))
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
	}
	c.File(filepath.Join(h.staticPath, "session.html"))
}
