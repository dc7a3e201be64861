package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, prefix))
	}
	return ""
}

// requireAuth enforces the "valid bearer token unless no devices are paired
// yet" rule on REST endpoints.
func (s *Server) requireAuth(c *gin.Context) {
	token := bearerToken(c)
	ok, reason := s.hub.Auth().Check(token)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "reason": reason})
		return
	}
	c.Next()
}

// requireAuthQueryOrHeader is the WS variant: browsers cannot set custom
// headers on a WebSocket upgrade request, so the token is also accepted as a
// "token" query parameter.
func (s *Server) requireAuthQueryOrHeader(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		token = c.Query("token")
	}
	ok, reason := s.hub.Auth().Check(token)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "reason": reason})
		return
	}
	c.Next()
}
