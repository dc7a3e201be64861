package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agenthub/internal/hub"
)

type sessionResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AgentKind  string `json:"agent_kind"`
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir"`
	CreatedAt  string `json:"created_at"`
	ForeignID  string `json:"foreign_id,omitempty"`
	SortOrder  int    `json:"sort_order"`
	FolderID   string `json:"folder_id,omitempty"`
	Running    bool   `json:"running"`
	Processing bool   `json:"processing"`
}

func toSessionResponse(v hub.SessionView) sessionResponse {
	resp := sessionResponse{
		ID:         v.ID,
		Name:       v.Name,
		AgentKind:  v.AgentKind,
		Command:    v.Command,
		WorkingDir: v.WorkingDir,
		CreatedAt:  v.CreatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
		SortOrder:  v.SortOrder,
		Running:    v.Running,
		Processing: v.Processing,
	}
	if v.ForeignID.Valid {
		resp.ForeignID = v.ForeignID.String
	}
	if v.FolderID.Valid {
		resp.FolderID = v.FolderID.String
	}
	return resp
}

func (s *Server) handleListSessions(c *gin.Context) {
	views, err := s.hub.ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]sessionResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toSessionResponse(v))
	}
	c.JSON(http.StatusOK, out)
}

type createSessionBody struct {
	Name          string `json:"name"`
	AgentType     string `json:"agent_type" binding:"required"`
	CustomCommand string `json:"custom_command"`
	WorkingDir    string `json:"working_dir"`
	FolderID      string `json:"folder_id"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var body createSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.hub.CreateSession(c.Request.Context(), hub.CreateSessionParams{
		Name:          body.Name,
		AgentType:     body.AgentType,
		CustomCommand: body.CustomCommand,
		WorkingDir:    body.WorkingDir,
		FolderID:      body.FolderID,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(hub.SessionView{Session: sess}))
}

func (s *Server) handleGetBuffer(c *gin.Context) {
	id := c.Param("id")
	data, found, err := s.hub.ChatHistory(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"buffer": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"buffer": string(data)})
}

func (s *Server) handleStartSession(c *gin.Context) {
	id := c.Param("id")
	status, err := s.hub.StartSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, hub.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}

func (s *Server) handleInterruptSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.hub.InterruptSession(id); err != nil {
		if errors.Is(err, hub.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "interrupted"})
}
