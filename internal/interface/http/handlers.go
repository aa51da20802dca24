package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/studyhub/study-companion/internal/application/home"
	"github.com/studyhub/study-companion/internal/application/tracker"
	"github.com/studyhub/study-companion/internal/domain/study"
	"github.com/studyhub/study-companion/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// VIEWS
// ══════════════════════════════════════════════════════════════════════════════

// StatsView is the JSON form of a user's study statistics.
type StatsView struct {
	StudyHours       float64 `json:"studyHours"`
	CompletedQuizzes int     `json:"completedQuizzes"`
	Streak           int     `json:"streak"`
	DailyGoalMet     bool    `json:"dailyGoal"`
}

// SessionView is a session snapshot together with its statistics.
type SessionView struct {
	UserID        string        `json:"userId"`
	DisplayName   string        `json:"displayName"`
	State         tracker.State `json:"state"`
	SessionID     string        `json:"sessionId,omitempty"`
	SessionStart  time.Time     `json:"sessionStart,omitzero"`
	LastStudyDate time.Time     `json:"lastStudyDate,omitzero"`
	Stats         StatsView     `json:"stats"`
}

func newStatsView(s study.Stats) StatsView {
	return StatsView{
		StudyHours:       s.StudyHours,
		CompletedQuizzes: s.CompletedQuizzes,
		Streak:           s.Streak,
		DailyGoalMet:     s.DailyGoalMet,
	}
}

func newSessionView(s tracker.Snapshot) SessionView {
	return SessionView{
		UserID:        s.UserID,
		DisplayName:   s.DisplayName,
		State:         s.State,
		SessionID:     s.SessionID,
		SessionStart:  s.SessionStart,
		LastStudyDate: s.LastStudyDate,
		Stats:         newStatsView(s.Stats),
	}
}

// NavigationView is the response of POST /api/navigate/:feature.
type NavigationView struct {
	Feature home.Feature `json:"feature"`
	Session *SessionView `json:"session,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

type registerRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "study-companion",
		"uptime":  s.Uptime().Round(time.Second).String(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, "email and password are required")
		return
	}

	id, err := s.deps.Auth.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		respondError(c, err)
		return
	}
	token, err := s.deps.Auth.Issue(id)
	if err != nil {
		respondError(c, err)
		return
	}

	s.logger.Info("user registered", logger.UserID(id.UserID))
	c.JSON(http.StatusCreated, token)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, "email and password are required")
		return
	}

	token, err := s.deps.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

func (s *Server) handleSessionStart(c *gin.Context) {
	snap, err := s.deps.Sessions.Start(c.Request.Context(), currentIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(snap))
}

func (s *Server) handleSessionEnd(c *gin.Context) {
	snap, err := s.deps.Sessions.End(c.Request.Context(), currentIdentity(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(snap))
}

func (s *Server) handleSessionQuiz(c *gin.Context) {
	snap, err := s.deps.Sessions.RecordQuiz(c.Request.Context(), currentIdentity(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(snap))
}

// handleSessionHeartbeat keeps an open session from being ended as abandoned.
func (s *Server) handleSessionHeartbeat(c *gin.Context) {
	snap, err := s.deps.Sessions.Heartbeat(currentIdentity(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(snap))
}

func (s *Server) handleStats(c *gin.Context) {
	snap, err := s.deps.Sessions.Stats(c.Request.Context(), currentIdentity(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(snap))
}

func (s *Server) handleHome(c *gin.Context) {
	d, err := s.deps.Dashboard.Home(c.Request.Context(), currentIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleNavigate(c *gin.Context) {
	res, err := s.deps.Dashboard.Navigate(c.Request.Context(), currentIdentity(c).UserID, c.Param("feature"))
	if err != nil {
		respondError(c, err)
		return
	}

	view := NavigationView{Feature: res.Feature}
	if res.Session != nil {
		sv := newSessionView(*res.Session)
		view.Session = &sv
	}
	c.JSON(http.StatusOK, view)
}
