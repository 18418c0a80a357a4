package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
)

// registerTrigger handles POST /triggers. The request body is passed
// straight through as the register_trigger action's params — triggers.Module
// already knows how to decode a trigger definition from a plain params map,
// the same shape an LLM would pass via a module action call.
func (s *Server) registerTrigger(c *gin.Context) {
	var params map[string]any
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.execTrigger(c, "register_trigger", params)
}

func (s *Server) activateTrigger(c *gin.Context) {
	s.execTrigger(c, "activate_trigger", map[string]any{"trigger_id": c.Param("trigger_id")})
}

func (s *Server) deactivateTrigger(c *gin.Context) {
	s.execTrigger(c, "deactivate_trigger", map[string]any{"trigger_id": c.Param("trigger_id")})
}

func (s *Server) deleteTrigger(c *gin.Context) {
	s.execTrigger(c, "delete_trigger", map[string]any{"trigger_id": c.Param("trigger_id")})
}

func (s *Server) getTrigger(c *gin.Context) {
	params := map[string]any{"trigger_id": c.Param("trigger_id")}
	s.execTrigger(c, "get_trigger", params)
}

func (s *Server) listTriggers(c *gin.Context) {
	params := map[string]any{}
	if state := c.Query("state"); state != "" {
		params["state"] = state
	}
	if c.Query("include_health") == "true" {
		params["include_health"] = true
	}
	s.execTrigger(c, "list_triggers", params)
}

// execTrigger runs one triggers.Module action and translates its error
// taxonomy (spec.md §7) into the matching HTTP status.
func (s *Server) execTrigger(c *gin.Context, action string, params map[string]any) {
	result, err := s.Triggers.Execute(c.Request.Context(), action, params)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// statusForError maps the daemon's error taxonomy to an HTTP status code.
// Anything not recognised (or not one of our typed errors at all) falls
// back to 500, on the assumption that an unrecognised failure is an
// infrastructure problem rather than a caller mistake.
func statusForError(err error) int {
	imlErr, ok := err.(*imlerrors.Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch imlErr.Kind {
	case imlerrors.ValidationError, imlerrors.ParseError:
		return http.StatusBadRequest
	case imlerrors.ModuleNotFound, imlerrors.ActionNotFound:
		return http.StatusNotFound
	case imlerrors.PermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
