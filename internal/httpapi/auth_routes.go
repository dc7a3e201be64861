package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agenthub/internal/auth"
)

func (s *Server) handleAuthCheck(c *gin.Context) {
	ok, reason := s.hub.Auth().Check(bearerToken(c))
	resp := gin.H{"authenticated": ok}
	if reason != "" {
		resp["reason"] = reason
	}
	c.JSON(http.StatusOK, resp)
}

type requestPairingBody struct {
	DeviceName string `json:"device_name"`
}

func (s *Server) handleRequestPairing(c *gin.Context) {
	var body requestPairingBody
	_ = c.ShouldBindJSON(&body)

	req, err := s.hub.RequestPairing(body.DeviceName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pairing_id": req.ID, "expires_in": 300})
}

type pairBody struct {
	PairingID  string `json:"pairing_id" binding:"required"`
	Code       string `json:"code" binding:"required"`
	DeviceName string `json:"device_name"`
}

func (s *Server) handlePair(c *gin.Context) {
	var body pairBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := s.hub.CompletePairing(c.Request.Context(), body.PairingID, body.Code, body.DeviceName)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": device.Token, "device_id": device.ID})
}

func (s *Server) handlePINStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pin_configured": s.hub.Auth().PINConfigured()})
}

type pinLoginBody struct {
	PIN        string `json:"pin" binding:"required"`
	DeviceName string `json:"device_name"`
}

func (s *Server) handlePINLogin(c *gin.Context) {
	var body pinLoginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := s.hub.PINLogin(c.Request.Context(), c.ClientIP(), body.PIN, body.DeviceName)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"token": device.Token, "device_id": device.ID})
	case errors.Is(err, auth.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	}
}
