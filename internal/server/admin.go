package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/mcowger/plexus/internal/auth"
	"github.com/mcowger/plexus/internal/config"
)

const adminTokenTTL = 24 * time.Hour

// adminAuth validates the bearer token against the configured admin secret.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.deps.Holder.Get().Config.Server.AdminSecret
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin_secret is not configured"})
			return
		}
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if _, err := auth.NewJWTManager(secret).ValidateToken(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

// handleAuthToken exchanges the admin secret for a short-lived JWT.
func (s *Server) handleAuthToken(c *gin.Context) {
	secret := s.deps.Holder.Get().Config.Server.AdminSecret
	if secret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin_secret is not configured"})
		return
	}
	var body struct {
		Secret string `json:"secret"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Secret), []byte(secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}
	token, err := auth.NewJWTManager(secret).GenerateToken("admin", adminTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int(adminTokenTTL.Seconds())})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	snap := s.deps.Holder.Get()
	c.Data(http.StatusOK, "application/yaml", snap.Raw)
}

// handleSetConfig validates the submitted YAML, publishes it live, persists
// a history snapshot, and rewrites the config file on disk.
func (s *Server) handleSetConfig(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read request body"})
		return
	}
	snap, err := config.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.deps.Holder.Store(snap)
	s.deps.Accounting.Reconfigure(snap.Config.Pricing, snap.Config.Energy)
	if err := s.deps.Store.SaveConfigSnapshot("admin-update", raw); err != nil {
		logrus.WithError(err).Warn("config history persistence failed")
	}
	if s.deps.ConfigPath != "" {
		if err := os.WriteFile(s.deps.ConfigPath, raw, 0600); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "config applied but not written to disk: " + err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "loaded_at": snap.LoadedAt})
}

func (s *Server) handleConfigHistory(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	snaps, err := s.deps.Store.ListConfigSnapshots(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (s *Server) handleGetState(c *gin.Context) {
	snap := s.deps.Holder.Get()
	providers := make([]gin.H, 0, len(snap.Config.Providers))
	for i := range snap.Config.Providers {
		p := &snap.Config.Providers[i]
		providers = append(providers, gin.H{
			"name":    p.Name,
			"type":    p.Type,
			"enabled": p.IsEnabled(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"cooldowns":     s.deps.Cooldowns.Snapshot(time.Now()),
		"providers":     providers,
		"log_level":     logrus.GetLevel().String(),
		"trace_enabled": snap.Config.Trace.Enabled,
	})
}

func (s *Server) handleSetState(c *gin.Context) {
	var body struct {
		ClearCooldowns bool   `json:"clear_cooldowns"`
		ClearProvider  string `json:"clear_provider"`
		Provider       *struct {
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		} `json:"provider"`
		LogLevel string `json:"log_level"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	if body.ClearCooldowns {
		s.deps.Cooldowns.ClearAll()
	}
	if body.ClearProvider != "" {
		s.deps.Cooldowns.Clear(body.ClearProvider)
	}
	if body.Provider != nil {
		enabled := body.Provider.Enabled
		err := s.updateProvider(body.Provider.Name, func(p *config.Provider) {
			p.Enabled = &enabled
		})
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logrus.WithFields(logrus.Fields{
			"provider": body.Provider.Name,
			"enabled":  enabled,
		}).Info("provider toggled")
	}
	if body.LogLevel != "" {
		level, err := logrus.ParseLevel(body.LogLevel)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown log level " + body.LogLevel})
			return
		}
		logrus.SetLevel(level)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// updateProvider publishes a new snapshot with one provider mutated. The
// change is runtime-only; a file reload replaces it.
func (s *Server) updateProvider(name string, mutate func(*config.Provider)) error {
	snap := s.deps.Holder.Get()
	raw, err := yaml.Marshal(snap.Config)
	if err != nil {
		return err
	}
	next, err := config.Parse(raw)
	if err != nil {
		return err
	}
	p, ok := next.Provider(name)
	if !ok {
		return errors.New("unknown provider " + name)
	}
	mutate(p)
	s.deps.Holder.Store(next)
	return nil
}

func (s *Server) handleUsage(c *gin.Context) {
	hours := queryInt(c, "hours", 24)
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	summaries, err := s.deps.Store.AggregateUsage(since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "usage": summaries})
}

func (s *Server) handleListLogs(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	logs, err := s.deps.Store.ListTraces(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) handleGetLog(c *gin.Context) {
	dl, err := s.deps.Store.GetTrace(c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no trace for request " + c.Param("id")})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id": dl.RequestID,
		"timestamp":  dl.Timestamp,
		"dialect":    dl.Dialect,
		"provider":   dl.Provider,
		"error":      dl.Error,
		"trace":      json.RawMessage(dl.Body),
	})
}

func (s *Server) handleDeleteLog(c *gin.Context) {
	if err := s.deps.Store.DeleteTrace(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRuntimeLogs(c *gin.Context) {
	if s.deps.Ring == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []struct{}{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": s.deps.Ring.Entries()})
}

// handleOAuthExchange turns an OAuth grant into a live provider credential.
// Either a ready access token or an authorization code plus token endpoint
// is accepted; the resulting token becomes the provider's API key until the
// next config reload.
func (s *Server) handleOAuthExchange(c *gin.Context) {
	name := c.Param("provider")
	var body struct {
		AccessToken  string `json:"access_token"`
		Code         string `json:"code"`
		TokenURL     string `json:"token_url"`
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		RedirectURI  string `json:"redirect_uri"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	token := body.AccessToken
	if token == "" {
		if body.Code == "" || body.TokenURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "access_token or code with token_url is required"})
			return
		}
		exchanged, err := exchangeAuthorizationCode(c, body.TokenURL, body.Code, body.ClientID, body.ClientSecret, body.RedirectURI)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		token = exchanged
	}

	err := s.updateProvider(name, func(p *config.Provider) {
		p.APIKey = token
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	logrus.WithField("provider", name).Info("provider credential updated via oauth")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "provider": name})
}

func exchangeAuthorizationCode(c *gin.Context, tokenURL, code, clientID, clientSecret, redirectURI string) (string, error) {
	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	if clientID != "" {
		form.Set("client_id", clientID)
	}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("token endpoint returned status " + strconv.Itoa(resp.StatusCode))
	}
	token := gjson.GetBytes(payload, "access_token").String()
	if token == "" {
		return "", errors.New("token endpoint response has no access_token")
	}
	return token, nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(fallback)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
