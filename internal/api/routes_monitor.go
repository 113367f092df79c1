package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/statecast-project/statecast/internal/db"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// handleListSessions returns every active session.
func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.deps.Sessions.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleSessionHistory returns the most recently closed sessions.
func (s *Server) handleSessionHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session history is disabled"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.deps.History.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []db.SessionRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": records,
		"count":    len(records),
	})
}

// handleGetLogEntries returns recent log entries.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count < 1 {
		count = 100
	}
	if count > 1000 {
		count = 1000
	}

	entries, err := readRecentLogEntries(s.cfg.GetApplicationData().Logging.Directory, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// logEntry is one zerolog JSON line.
type logEntry struct {
	Timestamp string                 `json:"timestamp,omitempty"`
	Level     string                 `json:"level,omitempty"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// newestLogFile returns the last statecast_*.log file in name order, which
// is the newest because the names carry the date.
func newestLogFile(logDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(logDir, "statecast_*.log"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// readRecentLogEntries parses the last count lines of the newest log file.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	file, err := newestLogFile(logDir)
	if err != nil || file == "" {
		return []logEntry{}, err
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Keep a ring of the last count non-empty lines.
	ring := make([]string, 0, count)
	next := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(ring) < count {
			ring = append(ring, line)
			continue
		}
		ring[next] = line
		next = (next + 1) % count
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}

	entries := make([]logEntry, 0, len(ring))
	for i := range ring {
		entries = append(entries, parseLogLine(ring[(next+i)%len(ring)]))
	}
	return entries, nil
}

func parseLogLine(line string) logEntry {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return logEntry{Message: line}
	}

	entry := logEntry{
		Timestamp: stringField(raw, "time"),
		Level:     stringField(raw, "level"),
		Component: stringField(raw, "component"),
		Message:   stringField(raw, "message"),
	}
	for _, k := range []string{"time", "level", "component", "message", "app", "caller"} {
		delete(raw, k)
	}
	if len(raw) > 0 {
		entry.Fields = raw
	}
	return entry
}

func stringField(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
