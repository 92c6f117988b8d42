package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"explorer/internal/engine"
)

// runSummary строка списка запусков без шагов и находок.
type runSummary struct {
	ID            string        `json:"id"`
	URL           string        `json:"url"`
	DeviceProfile string        `json:"deviceProfile"`
	Status        engine.Status `json:"status"`
	Reason        string        `json:"reason,omitempty"`
	Blocker       string        `json:"blocker,omitempty"`
	Steps         int           `json:"steps"`
	Issues        int           `json:"issues"`
	CreatedAt     time.Time     `json:"createdAt"`
}

func summarize(r engine.Run) runSummary {
	return runSummary{
		ID:            r.ID,
		URL:           r.TargetURL,
		DeviceProfile: r.DeviceProfile,
		Status:        r.Status,
		Reason:        r.Reason,
		Blocker:       r.Blocker,
		Steps:         len(r.Steps),
		Issues:        len(r.Issues),
		CreatedAt:     r.CreatedAt,
	}
}

// Создать запуск
func (s *Server) startRun(c *gin.Context) {
	var req engine.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.runs.Start(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": id})
}

func (s *Server) listRuns(c *gin.Context) {
	runs := s.runs.List()
	out := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, summarize(r))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.runs.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getReport(c *gin.Context) {
	rep, err := s.runs.Report(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// control оборачивает операции без тела запроса: pause, cancel и т.п.
func (s *Server) control(op func(id string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := op(id); err != nil {
			s.fail(c, err)
			return
		}
		s.respondStatus(c, id)
	}
}

func (s *Server) resumeRun(c *gin.Context) {
	var req struct {
		Instructions string `json:"instructions"`
		Append       bool   `json:"append"`
	}
	// тело необязательно
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	id := c.Param("id")
	if err := s.runs.Resume(id, req.Instructions, req.Append); err != nil {
		s.fail(c, err)
		return
	}
	s.respondStatus(c, id)
}

func (s *Server) supplyOTP(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if err := s.runs.SupplyOTP(id, req.Code); err != nil {
		s.fail(c, err)
		return
	}
	s.respondStatus(c, id)
}

// operate выполняет команду оператора; скриншот отдаётся как image/png.
func (s *Server) operate(c *gin.Context) {
	var cmd engine.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	png, err := s.runs.Operate(c.Request.Context(), c.Param("id"), cmd)
	if err != nil {
		s.fail(c, err)
		return
	}
	if png != nil {
		c.Data(http.StatusOK, "image/png", png)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) respondStatus(c *gin.Context, id string) {
	run, err := s.runs.Get(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": id, "status": run.Status})
}
