package mockserver

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nghyane/gameday-net/internal/json"
	"github.com/tidwall/gjson"
)

type school struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Mascot   string `json:"mascot"`
	Division string `json:"division"`
}

var schools = []school{
	{ID: "s1", Name: "Riverside High", Mascot: "Otters", Division: "3A"},
	{ID: "s2", Name: "Hillcrest Academy", Mascot: "Hawks", Division: "2A"},
	{ID: "s3", Name: "Lakeview Prep", Mascot: "Lynx", Division: "3A"},
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.POST("/auth/refresh", s.counted(), s.handleRefresh)

	api := s.engine.Group("/", s.counted(), s.faultInjector(), s.requireAuth())
	api.GET("/schools", s.handleSchools)
	api.GET("/events/:id", s.handleEvent)
	api.POST("/events/:id/checkin", s.handleCheckin)

	s.engine.GET("/stream/:topic", s.handleStream)

	admin := s.engine.Group("/admin")
	admin.POST("/topics/:topic/broadcast", s.handleBroadcast)
	admin.POST("/faults", s.handleFault)
	admin.POST("/expire", func(c *gin.Context) {
		s.ExpireAccessToken()
		c.Status(http.StatusNoContent)
	})
	admin.POST("/session", func(c *gin.Context) {
		access, refresh, err := s.IssueCredentials()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": access, "refresh_token": refresh, "expires_in": int(s.opts.TokenLifetime.Seconds())})
	})
}

func (s *Server) counted() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.requests.Add(1)
		c.Next()
	}
}

func (s *Server) faultInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		f, ok := s.takeFault()
		if !ok {
			c.Next()
			return
		}
		if f.RetryAfter != "" {
			c.Header("Retry-After", f.RetryAfter)
		}
		c.AbortWithStatusJSON(f.Status, gin.H{"error": http.StatusText(f.Status)})
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.tokens.verify(bearer(c)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleRefresh(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	refresh := gjson.GetBytes(body, "refresh_token").String()
	access, next, err := s.tokens.rotate(refresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	resp := gin.H{"access_token": access, "refresh_token": next}
	if !s.opts.OmitExpiresIn {
		resp["expires_in"] = int(s.opts.TokenLifetime.Seconds())
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSchools(c *gin.Context) {
	division := c.Query("division")
	out := make([]school, 0, len(schools))
	for _, sc := range schools {
		if division == "" || sc.Division == division {
			out = append(out, sc)
		}
	}
	c.JSON(http.StatusOK, gin.H{"schools": out})
}

func (s *Server) handleEvent(c *gin.Context) {
	id := c.Param("id")
	if id == "" || id[0] != 'e' {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": id, "home_team": "Otters", "away_team": "Hawks", "status": "live"})
}

func (s *Server) handleCheckin(c *gin.Context) {
	id := c.Param("id")
	if id == "" || id[0] != 'e' {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	total := s.checkins.Add(1)
	c.JSON(http.StatusOK, gin.H{"event_id": id, "checked_in": true, "points_awarded": 10, "total_checkins": total})
}

func (s *Server) handleBroadcast(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON envelope"})
		return
	}
	n := s.Broadcast(c.Param("topic"), body)
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}

func (s *Server) handleFault(c *gin.Context) {
	status, err := strconv.Atoi(c.DefaultQuery("status", "503"))
	if err != nil || status < 400 || status > 599 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be 4xx or 5xx"})
		return
	}
	count, err := strconv.Atoi(c.DefaultQuery("count", "1"))
	if err != nil || count < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be positive"})
		return
	}
	s.InjectFault(status, count, c.Query("retry_after"))
	c.Status(http.StatusNoContent)
}
