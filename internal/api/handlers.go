package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"pumpguard/internal/auth"
	"pumpguard/internal/storage"
)

type verifyRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type pairView struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Token0   string `json:"token0"`
	Token1   string `json:"token1"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) issueNonce(c *gin.Context) {
	if s.deps.Auth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Authentication disabled"})
		return
	}
	address := c.Query("address")
	nonce, err := s.deps.Auth.IssueNonce(c.Request.Context(), address)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address"})
		return
	case err != nil:
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nonce": nonce, "message": auth.Message(address, nonce)})
}

func (s *Server) verify(c *gin.Context) {
	if s.deps.Auth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Authentication disabled"})
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Address == "" || req.Message == "" || req.Signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing parameters"})
		return
	}

	session, err := s.deps.Auth.Verify(c.Request.Context(), req.Address, req.Message, req.Signature)
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	case errors.Is(err, auth.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing parameters"})
		return
	case err != nil:
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"token":      session.Token,
		"address":    session.Address,
		"expires_at": session.ExpiresAt,
	})
}

func (s *Server) session(c *gin.Context) {
	value, _ := c.Get(claimsKey)
	claims, ok := value.(*auth.Claims)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":    claims.Address,
		"issued_at":  claims.IssuedAt.Time,
		"expires_at": claims.ExpiresAt.Time,
	})
}

func (s *Server) listAlerts(c *gin.Context) {
	alerts, err := s.deps.Store.ListRecentAlerts(c.Request.Context(), parseLimit(c, s.cfg.AlertsLimit))
	if err != nil {
		s.internalError(c, err)
		return
	}
	if alerts == nil {
		alerts = []storage.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) listSwaps(c *gin.Context) {
	swaps, err := s.deps.Store.ListRecentSwaps(c.Request.Context(), parseLimit(c, s.cfg.SwapsLimit))
	if err != nil {
		s.internalError(c, err)
		return
	}
	if swaps == nil {
		swaps = []storage.SwapRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"swaps": swaps})
}

func (s *Server) stats(c *gin.Context) {
	if ref := c.Query("pair"); ref != "" {
		s.statsForPair(c, ref)
		return
	}

	summary, err := s.deps.Store.Summarize(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	updated := ""
	if summary.LastIngest != nil {
		updated = summary.LastIngest.UTC().Format("2006-01-02 15:04:05")
	}
	c.JSON(http.StatusOK, gin.H{
		"swaps":   summary.Swaps,
		"traders": summary.Traders,
		"updated": updated,
	})
}

func (s *Server) statsForPair(c *gin.Context, ref string) {
	rows, err := s.deps.Store.ListPairStats(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	for _, row := range rows {
		if strings.EqualFold(row.PairName, ref) || strings.EqualFold(row.PairAddress, ref) {
			c.JSON(http.StatusOK, gin.H{
				"swaps":   row.TotalSwaps,
				"traders": row.UniqueTraders,
				"updated": row.LastUpdated.UTC().Format("2006-01-02 15:04:05"),
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Unknown pair"})
}

func (s *Server) pairStats(c *gin.Context) {
	rows, err := s.deps.Store.ListPairStats(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	if rows == nil {
		rows = []storage.PairStats{}
	}
	c.JSON(http.StatusOK, gin.H{"pairs": rows})
}

func (s *Server) listPairs(c *gin.Context) {
	views := make([]pairView, 0, len(s.deps.Pairs))
	for _, p := range s.deps.Pairs {
		views = append(views, pairView{
			Name:     p.Name,
			Address:  p.Key(),
			Token0:   p.Token0,
			Token1:   p.Token1,
			Enabled:  p.Enabled,
			Priority: p.Priority,
		})
	}
	c.JSON(http.StatusOK, gin.H{"pairs": views})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func parseLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
