package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/change-approval/internal/application/workflow"
	"github.com/garyjia/change-approval/internal/domain/entity"
	domainwf "github.com/garyjia/change-approval/internal/domain/workflow"
)

// DirectoryWriter maintains user profiles
type DirectoryWriter interface {
	Upsert(ctx context.Context, p *entity.UserProfile) error
	RolesAndLimits(ctx context.Context, userID string) (*entity.UserProfile, error)
}

// AuditReader reads a change's audit trail
type AuditReader interface {
	ListByChange(ctx context.Context, changeID string) ([]*entity.AuditEvent, error)
}

// StatusReader reports the current status of a change request
type StatusReader interface {
	GetStatus(ctx context.Context, changeID string) (string, error)
}

// FailureLister lists recorded collaborator failures, newest first
type FailureLister interface {
	List(ctx context.Context, limit int) ([]*entity.CollaboratorFailure, error)
}

// HealthFunc reports overall health and a detail document
type HealthFunc func() (bool, interface{})

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine    workflow.Engine
	directory DirectoryWriter
	audit     AuditReader
	status    StatusReader
	failures  FailureLister
	health    HealthFunc
	logger    Logger
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Version   string      `json:"version"`
	Detail    interface{} `json:"detail,omitempty"`
}

type decideBody struct {
	Actor              string `json:"actor"`
	Decision           string `json:"decision"`
	Comments           string `json:"comments"`
	Conditions         string `json:"conditions"`
	DelegateTo         string `json:"delegate_to"`
	DelegationDuration string `json:"delegation_duration"`
}

type delegateBody struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Reason   string `json:"reason"`
	Duration string `json:"duration"`
}

type roleDelegationBody struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Role     string `json:"role"`
	Reason   string `json:"reason"`
	Duration string `json:"duration"`
}

type escalateBody struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type deadlineBody struct {
	DueAt  time.Time `json:"due_at"`
	Reason string    `json:"reason"`
	Actor  string    `json:"actor"`
}

type fulfillBody struct {
	Actor    string `json:"actor"`
	Evidence string `json:"evidence"`
}

type overrideBody struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type backupBody struct {
	Primary string `json:"primary"`
	Backup  string `json:"backup"`
	Role    string `json:"role"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	code := http.StatusOK
	if h.health != nil {
		ok, detail := h.health()
		response.Detail = detail
		if !ok {
			response.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, Response{
		Success: code == http.StatusOK,
		Data:    response,
	})
}

// InitiateWorkflow handles POST /api/v1/workflows
func (h *Handlers) InitiateWorkflow(c *gin.Context) {
	var change entity.ChangeData
	if !h.bind(c, &change) {
		return
	}

	wf, err := h.engine.InitiateWorkflow(c.Request.Context(), change)
	if err != nil {
		h.fail(c, "Failed to initiate workflow", err, "change_id", change.ChangeID)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: wf})
}

// GetWorkflow handles GET /api/v1/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.engine.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get workflow", err, "workflow_id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: view})
}

// Override handles POST /api/v1/workflows/:id/override
func (h *Handlers) Override(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var body overrideBody
	if !h.bind(c, &body) {
		return
	}

	wf, err := h.engine.Override(c.Request.Context(), id, body.Actor, body.Reason)
	if err != nil {
		h.fail(c, "Failed to override workflow", err, "workflow_id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: wf})
}

// GetChangeWorkflow handles GET /api/v1/changes/:change_id/workflow
func (h *Handlers) GetChangeWorkflow(c *gin.Context) {
	changeID := c.Param("change_id")

	view, err := h.engine.GetWorkflowByChange(c.Request.Context(), changeID)
	if err != nil {
		h.fail(c, "Failed to get workflow", err, "change_id", changeID)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: view})
}

// GetChangeStatus handles GET /api/v1/changes/:change_id/status
func (h *Handlers) GetChangeStatus(c *gin.Context) {
	changeID := c.Param("change_id")

	status, err := h.status.GetStatus(c.Request.Context(), changeID)
	if err != nil {
		h.fail(c, "Failed to get change status", err, "change_id", changeID)
		return
	}
	if status == "" {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "change not found", Kind: string(domainwf.KindNotFound)})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"change_id": changeID, "status": status}})
}

// GetAuditTrail handles GET /api/v1/changes/:change_id/audit
func (h *Handlers) GetAuditTrail(c *gin.Context) {
	changeID := c.Param("change_id")

	events, err := h.audit.ListByChange(c.Request.Context(), changeID)
	if err != nil {
		h.fail(c, "Failed to list audit trail", err, "change_id", changeID)
		return
	}
	if events == nil {
		events = []*entity.AuditEvent{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: events})
}

// Decide handles POST /api/v1/steps/:id/decision
func (h *Handlers) Decide(c *gin.Context) {
	stepID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var body decideBody
	if !h.bind(c, &body) {
		return
	}
	duration, ok := h.duration(c, body.DelegationDuration)
	if !ok {
		return
	}

	res, err := h.engine.Decide(c.Request.Context(), workflow.DecideRequest{
		StepID:             stepID,
		Actor:              body.Actor,
		Decision:           body.Decision,
		Comments:           body.Comments,
		Conditions:         body.Conditions,
		DelegateTo:         body.DelegateTo,
		DelegationDuration: duration,
	})
	if err != nil {
		h.fail(c, "Failed to record decision", err, "step_id", stepID, "actor", body.Actor)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: res})
}

// Delegate handles POST /api/v1/steps/:id/delegate
func (h *Handlers) Delegate(c *gin.Context) {
	stepID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var body delegateBody
	if !h.bind(c, &body) {
		return
	}
	duration, ok := h.duration(c, body.Duration)
	if !ok {
		return
	}

	d, err := h.engine.Delegate(c.Request.Context(), workflow.DelegateRequest{
		StepID:   stepID,
		From:     body.From,
		To:       body.To,
		Reason:   body.Reason,
		Duration: duration,
	})
	if err != nil {
		h.fail(c, "Failed to delegate step", err, "step_id", stepID)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: d})
}

// Escalate handles POST /api/v1/steps/:id/escalate
func (h *Handlers) Escalate(c *gin.Context) {
	stepID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var body escalateBody
	if !h.bind(c, &body) {
		return
	}

	esc, err := h.engine.Escalate(c.Request.Context(), workflow.EscalateRequest{
		StepID: stepID,
		Target: body.Target,
		Reason: body.Reason,
		Actor:  body.Actor,
	})
	if err != nil {
		h.fail(c, "Failed to escalate step", err, "step_id", stepID)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: esc})
}

// UpdateDeadline handles PUT /api/v1/steps/:id/deadline
func (h *Handlers) UpdateDeadline(c *gin.Context) {
	stepID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var body deadlineBody
	if !h.bind(c, &body) {
		return
	}

	step, err := h.engine.UpdateDeadline(c.Request.Context(), stepID, body.DueAt, body.Reason, body.Actor)
	if err != nil {
		h.fail(c, "Failed to update deadline", err, "step_id", stepID)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: step})
}

// FulfillRequirement handles POST /api/v1/steps/:id/requirements/:requirement_id/fulfill
func (h *Handlers) FulfillRequirement(c *gin.Context) {
	stepID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	requirementID, ok := h.pathID(c, "requirement_id")
	if !ok {
		return
	}
	var body fulfillBody
	if !h.bind(c, &body) {
		return
	}

	all, err := h.engine.FulfillRequirement(c.Request.Context(), stepID, requirementID, body.Actor, body.Evidence)
	if err != nil {
		h.fail(c, "Failed to fulfill requirement", err, "step_id", stepID, "requirement_id", requirementID)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"all_fulfilled": all}})
}

// PendingFor handles GET /api/v1/users/:user_id/pending
func (h *Handlers) PendingFor(c *gin.Context) {
	userID := c.Param("user_id")

	pending, err := h.engine.PendingFor(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "Failed to list pending approvals", err, "user_id", userID)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: pending})
}

// GetUser handles GET /api/v1/users/:user_id
func (h *Handlers) GetUser(c *gin.Context) {
	userID := c.Param("user_id")

	profile, err := h.directory.RolesAndLimits(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "Failed to get user", err, "user_id", userID)
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "user not found", Kind: string(domainwf.KindNotFound)})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: profile})
}

// UpsertUser handles PUT /api/v1/users/:user_id
func (h *Handlers) UpsertUser(c *gin.Context) {
	var profile entity.UserProfile
	if !h.bind(c, &profile) {
		return
	}
	profile.UserID = c.Param("user_id")

	if err := h.directory.Upsert(c.Request.Context(), &profile); err != nil {
		h.fail(c, "Failed to upsert user", err, "user_id", profile.UserID)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: profile})
}

// DelegateRole handles POST /api/v1/role-delegations
func (h *Handlers) DelegateRole(c *gin.Context) {
	var body roleDelegationBody
	if !h.bind(c, &body) {
		return
	}
	duration, ok := h.duration(c, body.Duration)
	if !ok {
		return
	}

	d, err := h.engine.DelegateRole(c.Request.Context(), body.From, body.To, body.Role, body.Reason, duration)
	if err != nil {
		h.fail(c, "Failed to delegate role", err, "from", body.From, "role", body.Role)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: d})
}

// SetBackupApprover handles PUT /api/v1/backups
func (h *Handlers) SetBackupApprover(c *gin.Context) {
	var body backupBody
	if !h.bind(c, &body) {
		return
	}

	b, err := h.engine.SetBackupApprover(c.Request.Context(), body.Primary, body.Backup, body.Role)
	if err != nil {
		h.fail(c, "Failed to set backup approver", err, "primary", body.Primary, "role", body.Role)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: b})
}

// RemoveBackupApprover handles DELETE /api/v1/backups/:primary/:role
func (h *Handlers) RemoveBackupApprover(c *gin.Context) {
	primary, role := c.Param("primary"), c.Param("role")

	if err := h.engine.RemoveBackupApprover(c.Request.Context(), primary, role); err != nil {
		h.fail(c, "Failed to remove backup approver", err, "primary", primary, "role", role)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// RunSweep handles POST /api/v1/sweeps/:sweep
func (h *Handlers) RunSweep(c *gin.Context) {
	ctx := c.Request.Context()
	sweep := c.Param("sweep")

	var (
		report *workflow.SweepReport
		err    error
	)
	switch sweep {
	case "progression":
		report, err = h.engine.RunProgressionSweep(ctx)
	case "deadline":
		report, err = h.engine.RunDeadlineSweep(ctx)
	case "delegations":
		n, cleanupErr := h.engine.CleanupDelegations(ctx)
		if cleanupErr != nil {
			h.fail(c, "Delegation cleanup failed", cleanupErr)
			return
		}
		c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"deactivated": n}})
		return
	default:
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "unknown sweep " + sweep})
		return
	}

	if err != nil && report == nil {
		h.fail(c, "Sweep failed", err, "sweep", sweep)
		return
	}

	// Per-item failures still return the report
	resp := Response{Success: err == nil, Data: report}
	if err != nil {
		h.logger.Error("Sweep finished with failures", "sweep", sweep, "failed", report.Failed, "error", err)
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// ListFailures handles GET /api/v1/failures
func (h *Handlers) ListFailures(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid limit"})
			return
		}
		limit = n
	}

	failures, err := h.failures.List(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "Failed to list collaborator failures", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: failures})
}

func (h *Handlers) bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.logger.Error("Invalid request body", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
			Kind:    string(domainwf.KindValidation),
		})
		return false
	}
	return true
}

func (h *Handlers) pathID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid " + name,
			Kind:    string(domainwf.KindValidation),
		})
		return 0, false
	}
	return id, true
}

func (h *Handlers) duration(c *gin.Context, raw string) (time.Duration, bool) {
	if raw == "" {
		return 0, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid duration " + raw,
			Kind:    string(domainwf.KindValidation),
		})
		return 0, false
	}
	return d, true
}

// fail writes the error with the status code of its kind
func (h *Handlers) fail(c *gin.Context, msg string, err error, keysAndValues ...interface{}) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(msg, append(keysAndValues, "error", err)...)
	} else {
		h.logger.Info(msg, append(keysAndValues, "error", err.Error())...)
	}

	resp := Response{Success: false, Error: err.Error(), Kind: string(domainwf.KindOf(err))}
	if resp.Kind == "" {
		resp.Error = "internal error"
	}
	c.JSON(code, resp)
}

// StatusFor maps an engine error to an HTTP status code
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domainwf.ErrAuthority):
		return http.StatusForbidden
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrDependencyViolation):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrCollaboratorFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
