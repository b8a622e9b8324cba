package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/aq2208/gcheckout/configs"
	"github.com/aq2208/gcheckout/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type TokenHandler struct {
	clients  security.Clients
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewTokenHandler(cfg configs.Config, clients security.Clients) *TokenHandler {
	return &TokenHandler{
		clients:  clients,
		secret:   []byte(cfg.Security.JWTSecret),
		issuer:   cfg.Security.Issuer,
		audience: cfg.Security.Audience,
		ttl:      cfg.Security.TTL,
		now:      time.Now,
	}
}

type tokenReq struct {
	ClientID     string `json:"client_id" form:"client_id"`
	ClientSecret string `json:"client_secret" form:"client_secret"`
	Scope        string `json:"scope" form:"scope"`
}

// POST /v1/token (form or JSON)
// Accepts: client_id, client_secret
// Optional: scope (space-separated subset of client's perms)
func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req tokenReq
	if err := c.ShouldBind(&req); err != nil || req.ClientID == "" || req.ClientSecret == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}

	cl, ok := h.clients.Authenticate(req.ClientID, req.ClientSecret)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}

	perms := cl.Perms
	if req.Scope != "" {
		var narrowed []string
		for _, s := range strings.Fields(req.Scope) {
			if !contains(cl.Perms, s) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scope", "scope": s})
				return
			}
			narrowed = append(narrowed, s)
		}
		perms = narrowed
	}

	now := h.now()
	claims := jwt.MapClaims{
		"iss":      h.issuer,
		"aud":      h.audience,
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"exp":      now.Add(h.ttl).Unix(),
		"clientID": cl.ID,
		"perms":    perms,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   int64(h.ttl / time.Second),
		"scope":        strings.Join(perms, " "),
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
