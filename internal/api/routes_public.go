package api

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/statecast-project/statecast/internal/util"
)

// handlePing returns a simple liveness response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "statecast",
		"version": s.deps.Version,
	})
}

// handleStatus returns host information, health and the session count.
func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"version":         s.deps.Version,
		"active_sessions": s.deps.Sessions.Count(),
		"system":          util.GetSystemInfo(),
	}
	if s.deps.Health != nil {
		resp["health"] = s.deps.Health.Status()
	}
	c.JSON(http.StatusOK, resp)
}

// staticHandler serves the web client from dir. Paths that do not name a
// file fall back to index.html so the client can route them itself.
func (s *Server) staticHandler(dir string) gin.HandlerFunc {
	index := filepath.Join(dir, "index.html")

	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
			return
		}

		// path.Clean on a rooted path drops any "..".
		name := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+c.Request.URL.Path)))
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			c.File(name)
			return
		}

		if util.FileExists(index) {
			c.File(index)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}
