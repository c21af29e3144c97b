package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"watchtower-alerts-go/internal/logging"
	"watchtower-alerts-go/internal/models"
	"watchtower-alerts-go/internal/services/rules"
)

type RuleHandler struct {
	rules *rules.Service
}

func NewRuleHandler(ruleSvc *rules.Service) *RuleHandler {
	return &RuleHandler{rules: ruleSvc}
}

// RuleRequest is the wire shape for rule CRUD; durations are Go duration
// strings such as "5m" or "1h30m".
type RuleRequest struct {
	ID                  string                `json:"id"`
	Name                string                `json:"name"`
	AppliesTo           models.RuleMatcher    `json:"applies_to"`
	ConfidenceThreshold float64               `json:"confidence_threshold"`
	SeverityMapping     []models.SeverityStep `json:"severity_mapping"`
	EscalateAfter       string                `json:"escalate_after,omitempty" example:"5m"`
	AutoResolveAfter    string                `json:"auto_resolve_after,omitempty" example:"30m"`
	TargetTeam          string                `json:"target_team,omitempty"`
	Enabled             bool                  `json:"enabled"`
}

func (r RuleRequest) toRule() (models.Rule, error) {
	rule := models.Rule{
		ID:                  r.ID,
		Name:                r.Name,
		AppliesTo:           r.AppliesTo,
		ConfidenceThreshold: r.ConfidenceThreshold,
		SeverityMapping:     r.SeverityMapping,
		TargetTeam:          r.TargetTeam,
		Enabled:             r.Enabled,
	}
	if r.EscalateAfter != "" {
		d, err := time.ParseDuration(r.EscalateAfter)
		if err != nil {
			return models.Rule{}, err
		}
		rule.EscalateAfter = d
	}
	if r.AutoResolveAfter != "" {
		d, err := time.ParseDuration(r.AutoResolveAfter)
		if err != nil {
			return models.Rule{}, err
		}
		rule.AutoResolveAfter = d
	}
	return rule, nil
}

// List returns the ordered rule set
// @Summary List rules
// @Description Rules in evaluation order; the first match applies
// @Tags rules
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /rules [get]
func (h *RuleHandler) List(c *gin.Context) {
	ruleset := h.rules.List()
	c.JSON(http.StatusOK, gin.H{
		"rules": ruleset,
		"count": len(ruleset),
	})
}

// Get returns one rule
// @Summary Get a rule
// @Tags rules
// @Param id path string true "Rule ID"
// @Success 200 {object} models.Rule
// @Failure 404 {object} map[string]string
// @Router /rules/{id} [get]
func (h *RuleHandler) Get(c *gin.Context) {
	rule, err := h.rules.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Create appends a rule to the evaluation order
// @Summary Create a rule
// @Description Changes take effect on the next evaluation, not retroactively
// @Tags rules
// @Accept json
// @Param request body RuleRequest true "Rule configuration"
// @Success 201 {object} models.Rule
// @Failure 400 {object} map[string]string
// @Router /rules [post]
func (h *RuleHandler) Create(c *gin.Context) {
	rule, ok := h.bind(c)
	if !ok {
		return
	}
	if err := h.rules.Create(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// Update replaces a rule in place
// @Summary Update a rule
// @Description Changes take effect on the next evaluation, not retroactively
// @Tags rules
// @Accept json
// @Param id path string true "Rule ID"
// @Param request body RuleRequest true "Rule configuration"
// @Success 200 {object} models.Rule
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /rules/{id} [put]
func (h *RuleHandler) Update(c *gin.Context) {
	rule, ok := h.bind(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.rules.Update(id, rule); err != nil {
		if errors.Is(err, models.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule.ID = id
	c.JSON(http.StatusOK, rule)
}

// Delete removes a rule
// @Summary Delete a rule
// @Tags rules
// @Param id path string true "Rule ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /rules/{id} [delete]
func (h *RuleHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.rules.Delete(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule_id": id, "status": "deleted"})
}

func (h *RuleHandler) bind(c *gin.Context) (models.Rule, bool) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logging.Warn(c).Err(err).Msg("Malformed rule payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.Rule{}, false
	}
	rule, err := req.toRule()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration: " + err.Error()})
		return models.Rule{}, false
	}
	return rule, true
}
