package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"nudge/src/internal/engine"
	"nudge/src/internal/engine/tools"
	"nudge/src/internal/gateway"
	"nudge/src/internal/llm"
	"nudge/src/internal/reminders"
)

type promptRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

type promptResponse struct {
	Response     string    `json:"response"`
	Iterations   int       `json:"iterations"`
	ToolCalls    int       `json:"tool_calls"`
	Usage        llm.Usage `json:"usage"`
	IterationCap bool      `json:"iteration_cap,omitempty"`
}

func (s *Server) handlePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gw := c.MustGet("gateway").(*gateway.Gateway)
	res, err := gw.PrimaryAgent.DelegatePrompt(c.Request.Context(), ownerOf(c), req.Prompt, nil)
	if res == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errText(err)})
		return
	}
	resp := promptResponse{
		Response:     res.Answer,
		Iterations:   res.Iterations,
		ToolCalls:    res.ToolCalls,
		Usage:        res.Usage,
		IterationCap: errors.Is(err, engine.ErrIterationCap),
	}
	if errors.Is(err, engine.ErrBackend) {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "response": res.Answer})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func errText(err error) string {
	if err == nil {
		return "no result"
	}
	return err.Error()
}

func (s *Server) handleListTools(c *gin.Context) {
	specs, err := tools.Specs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, specs)
}

// reminderError maps service errors onto status codes.
func reminderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reminders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, reminders.ErrInvalidTask), errors.Is(err, reminders.ErrInvalidInterval), errors.Is(err, reminders.ErrNoDueDate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleListReminders(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	views, err := gw.Reminders.Views(c.Request.Context(), ownerOf(c))
	if err != nil {
		reminderError(c, err)
		return
	}

	switch view := c.DefaultQuery("view", "active"); view {
	case "active":
		c.JSON(http.StatusOK, views.Active)
	case "overdue":
		c.JSON(http.StatusOK, views.Overdue)
	case "due_soon":
		c.JSON(http.StatusOK, views.DueSoon)
	case "completed":
		c.JSON(http.StatusOK, views.Completed)
	case "archived":
		c.JSON(http.StatusOK, views.Archived)
	case "grouped":
		c.JSON(http.StatusOK, views.Groups)
	case "all":
		c.JSON(http.StatusOK, views)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown view " + view})
	}
}

type reminderRequest struct {
	Title       *string               `json:"title"`
	Notes       *string               `json:"notes"`
	Due         *string               `json:"due"`
	Priority    *reminders.Priority   `json:"priority"`
	Category    *reminders.Category   `json:"category"`
	Subcategory *string               `json:"subcategory"`
	Recurrence  *reminders.Recurrence `json:"recurrence"`
	Completed   *bool                 `json:"completed"`
	Archived    *bool                 `json:"archived"`
}

// patch turns the request into a reminders.Patch. An empty due string clears
// the due date.
func (r reminderRequest) patch(gw *gateway.Gateway) (reminders.Patch, error) {
	p := reminders.Patch{
		Title:       r.Title,
		Notes:       r.Notes,
		Priority:    r.Priority,
		Category:    r.Category,
		Subcategory: r.Subcategory,
		Recurrence:  r.Recurrence,
		Completed:   r.Completed,
		Archived:    r.Archived,
	}
	if r.Due != nil {
		if strings.TrimSpace(*r.Due) == "" {
			p.ClearDue = true
		} else {
			due, err := tools.ParseTime(*r.Due, gw.Reminders.Location())
			if err != nil {
				return p, err
			}
			due = due.UTC()
			p.Due = &due
		}
	}
	return p, nil
}

func (s *Server) handleCreateReminder(c *gin.Context) {
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	gw := c.MustGet("gateway").(*gateway.Gateway)
	p, err := req.patch(gw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t := reminders.Task{OwnerID: ownerOf(c), Source: "api"}
	p.Completed, p.Archived = nil, nil
	p.Apply(&t)
	created, err := gw.Reminders.Create(c.Request.Context(), t)
	if err != nil {
		reminderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetReminder(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	t, err := gw.Reminders.Get(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		reminderError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleUpdateReminder(c *gin.Context) {
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	gw := c.MustGet("gateway").(*gateway.Gateway)
	p, err := req.patch(gw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := gw.Reminders.Update(c.Request.Context(), ownerOf(c), c.Param("id"), p)
	if err != nil {
		reminderError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleDeleteReminder(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	if err := gw.Reminders.Delete(c.Request.Context(), ownerOf(c), c.Param("id")); err != nil {
		reminderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCompleteReminder(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	succ, err := gw.Reminders.Complete(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		reminderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "successor": succ})
}

func (s *Server) handleTransition(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		gw := c.MustGet("gateway").(*gateway.Gateway)
		svc := gw.Reminders
		var (
			t   reminders.Task
			err error
		)
		switch action {
		case "uncomplete":
			t, err = svc.Uncomplete(c.Request.Context(), ownerOf(c), c.Param("id"))
		case "archive":
			t, err = svc.Archive(c.Request.Context(), ownerOf(c), c.Param("id"))
		default:
			t, err = svc.Unarchive(c.Request.Context(), ownerOf(c), c.Param("id"))
		}
		if err != nil {
			reminderError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}
