package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cea/internal/session"
)

type SessionHandler struct {
	sessions *session.Manager
}

func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// GetSession GET /api/v1/session
func (h *SessionHandler) GetSession(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	record, ok := h.sessions.GetUserSession(c.Request.Context(), userID)
	if !ok {
		respondError(c, http.StatusNotFound, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, SessionResponse{
		UserID:       record.UserID,
		Email:        record.Email,
		LastActivity: formatTime(record.LastActivity),
		IPAddress:    record.IPAddress,
		UserAgent:    record.UserAgent,
		Preferences:  record.Preferences,
	})
}

// UpdateSession PUT /api/v1/session
// 整体覆写：调用方要做部分更新必须先读再写。
func (h *SessionHandler) UpdateSession(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	email := req.Email
	if email == "" {
		email = c.GetString(ctxUserEmail)
	}

	h.sessions.SetUserSession(c.Request.Context(), userID, session.SessionData{
		Email:       email,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Preferences: req.Preferences,
	})

	c.JSON(http.StatusOK, StatusResponse{Status: "updated"})
}

// TouchActivity POST /api/v1/session/activity
func (h *SessionHandler) TouchActivity(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	// 会话不存在时不会凭空创建
	if !h.sessions.UpdateSessionActivity(c.Request.Context(), userID) {
		respondError(c, http.StatusNotFound, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "refreshed"})
}

// DeleteSession DELETE /api/v1/session
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	h.sessions.ClearUserData(c.Request.Context(), userID)
	h.sessions.ClearChatHistory(c.Request.Context(), userID)
	c.JSON(http.StatusOK, StatusResponse{Status: "cleared"})
}

// GetPreferences GET /api/v1/session/preferences
func (h *SessionHandler) GetPreferences(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	prefs, ok := h.sessions.GetUserPreferences(c.Request.Context(), userID)
	if !ok {
		prefs = map[string]any{}
	}
	c.JSON(http.StatusOK, prefs)
}

// UpdatePreferences PUT /api/v1/session/preferences
func (h *SessionHandler) UpdatePreferences(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	var prefs map[string]any
	if err := c.ShouldBindJSON(&prefs); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	h.sessions.SetUserPreferences(c.Request.Context(), userID, prefs)
	c.JSON(http.StatusOK, StatusResponse{Status: "updated"})
}

// CacheSearch POST /api/v1/jobs/search-cache
func (h *SessionHandler) CacheSearch(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	var req CacheSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	h.sessions.CacheJobSearch(c.Request.Context(), userID, req.SearchKey, session.JobSearchEntry{
		Query:      req.Query,
		Filters:    req.Filters,
		Results:    req.Results,
		TotalCount: req.TotalCount,
	})
	c.JSON(http.StatusOK, StatusResponse{Status: "cached"})
}

// GetCachedSearch GET /api/v1/jobs/search-cache/:key
func (h *SessionHandler) GetCachedSearch(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	entry, ok := h.sessions.GetCachedJobSearch(c.Request.Context(), userID, c.Param("key"))
	if !ok {
		respondError(c, http.StatusNotFound, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// GetJobMatches GET /api/v1/jobs/matches
func (h *SessionHandler) GetJobMatches(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	matches, ok := h.sessions.GetJobMatches(c.Request.Context(), userID)
	if !ok {
		matches = []any{}
	}
	c.JSON(http.StatusOK, matches)
}

// SetJobMatches PUT /api/v1/jobs/matches
func (h *SessionHandler) SetJobMatches(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	var req JobMatchesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	h.sessions.SetJobMatches(c.Request.Context(), userID, req.Matches)
	c.JSON(http.StatusOK, StatusResponse{Status: "cached"})
}

// SaveForm POST /api/v1/forms/:id
func (h *SessionHandler) SaveForm(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	h.sessions.SaveFormData(c.Request.Context(), userID, c.Param("id"), data)
	c.JSON(http.StatusOK, StatusResponse{Status: "saved"})
}

// GetForm GET /api/v1/forms/:id
func (h *SessionHandler) GetForm(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	data, ok := h.sessions.GetFormData(c.Request.Context(), userID, c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, data)
}

// SetUploadProgress PUT /api/v1/uploads/:id/progress
func (h *SessionHandler) SetUploadProgress(c *gin.Context) {
	var req UploadProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	h.sessions.SetUploadProgress(c.Request.Context(), c.Param("id"), *req.Progress)
	c.JSON(http.StatusOK, StatusResponse{Status: "updated"})
}

// GetUploadProgress GET /api/v1/uploads/:id/progress
func (h *SessionHandler) GetUploadProgress(c *gin.Context) {
	uploadID := c.Param("id")

	progress, ok := h.sessions.GetUploadProgress(c.Request.Context(), uploadID)
	if !ok {
		respondError(c, http.StatusNotFound, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, UploadProgressResponse{
		UploadID:  uploadID,
		Progress:  progress.Progress,
		Timestamp: formatTime(progress.Timestamp),
	})
}
