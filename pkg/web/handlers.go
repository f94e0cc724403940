// Package web provides HTTP handlers and REST API endpoints for process management.
package web

import (
	"bytes"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/dukex/procflow/pkg/definition"
	"github.com/dukex/procflow/pkg/engine"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	logger    *slog.Logger
	engine    *engine.Engine
	validator *validator.Validate
	registry  *registry.Registry
}

func NewAPIHandlers(
	logger *slog.Logger,
	engine *engine.Engine,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		logger:    logger.With("module", "web"),
		engine:    engine,
		validator: validator,
		registry:  registry,
	}
}

// HealthCheck is unhealthy while a deployed definition refers to a script or
// delegate that is not registered.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	definitions := h.engine.Definitions().List()
	missing := h.missingCollaborators(definitions)

	status := "unhealthy"
	message := "procflow is unhealthy"
	httpStatus := http.StatusInternalServerError

	if len(missing) == 0 {
		status = "healthy"
		message = "procflow is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry": fiber.Map{
				"scripts":   h.registry.ScriptNames(),
				"delegates": h.registry.DelegateNames(),
				"missing":   missing,
			},
			"definitions": len(definitions),
			"executions":  len(h.engine.List()),
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) missingCollaborators(definitions []*models.ProcessDefinition) []string {
	scripts := h.registry.ScriptNames()
	delegates := h.registry.DelegateNames()
	missing := []string{}

	for _, def := range definitions {
		for _, activity := range def.Activities {
			switch {
			case activity.Kind == models.ActivityKindScriptInit && !slices.Contains(scripts, activity.Script):
				missing = append(missing, "script "+activity.Script)
			case activity.Kind == models.ActivityKindDelegateTask && !slices.Contains(delegates, activity.Delegate):
				missing = append(missing, "delegate "+activity.Delegate)
			}
		}
	}

	slices.Sort(missing)

	return slices.Compact(missing)
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	definitions := h.engine.Definitions().List()

	summaries := make([]DefinitionSummary, 0, len(definitions))
	for _, def := range definitions {
		summaries = append(summaries, TransformDefinitionSummary(def))
	}

	return c.JSON(fiber.Map{
		"definitions": summaries,
		"total_count": len(summaries),
	})
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	def, err := h.engine.Definitions().Get(id)
	if err != nil {
		return notFound(c, "definition_not_found", "Process definition not found")
	}

	return c.JSON(def)
}

// DeployDefinition accepts a YAML or JSON process document.
func (h *APIHandlers) DeployDefinition(c fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "Process document is required")
	}

	def, err := definition.Load(bytes.NewReader(body), "request")
	if err != nil {
		return handleEngineError(c, err, "")
	}

	err = h.engine.Definitions().Deploy(c.Context(), def)
	if err != nil {
		return handleEngineError(c, err, "")
	}

	deployed, err := h.engine.Definitions().Get(def.ID)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformDefinitionSummary(deployed))
}

func (h *APIHandlers) StartProcess(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	var req StartProcessRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	executionID, err := h.engine.Start(c.Context(), id, req.Variables)
	if err != nil {
		instance := ""
		if executionID != "" {
			instance = "/executions/" + executionID
		}

		return handleEngineError(c, err, instance)
	}

	snapshot, err := h.engine.Execution(c.Context(), executionID)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(StartProcessResponse{
		ExecutionID: snapshot.ID,
		Status:      snapshot.Status,
		ActivityID:  snapshot.ActivityID,
	})
}

// Correlate delivers the message named in the path to the waiting execution.
func (h *APIHandlers) Correlate(c fiber.Ctx) error {
	name := c.Params("name")
	if err := h.validator.Var(name, "required,max=256"); err != nil {
		return badRequest(c, "Message name is required")
	}

	var req CorrelateRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	var err error

	if req.ExecutionID != "" {
		err = h.engine.CorrelateExecution(c.Context(), name, req.ExecutionID, req.Variables)
	} else {
		err = h.engine.Correlate(c.Context(), name, req.Key, req.Variables)
	}

	if err != nil {
		h.logger.WarnContext(c.Context(), "message not correlated", "message", name, "key", req.Key, "error", err)

		return handleEngineError(c, err, "")
	}

	return c.JSON(fiber.Map{
		"message":    name,
		"correlated": true,
	})
}

func (h *APIHandlers) GetPending(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"pending": TransformPending(h.engine.Pending()),
	})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	executions := h.engine.List()

	if status := c.Query("status"); status != "" {
		executions = slices.DeleteFunc(executions, func(snapshot *models.ExecutionSnapshot) bool {
			return string(snapshot.Status) != status
		})
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	snapshot, err := h.engine.Execution(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err, "")
	}

	return c.JSON(snapshot)
}

func (h *APIHandlers) GetVariables(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	vars, err := h.engine.Variables(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err, "")
	}

	return c.JSON(vars)
}

func (h *APIHandlers) GetVariable(c fiber.Ctx) error {
	id := c.Params("id")
	name := c.Params("name")

	if id == "" || name == "" {
		return badRequest(c, "Execution ID and variable name are required")
	}

	value, err := h.engine.GetVariable(c.Context(), id, name)
	if err != nil {
		return handleEngineError(c, err, "")
	}

	return c.JSON(VariableResponse{Name: name, Value: value})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	err := h.engine.Cancel(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err, "")
	}

	snapshot, err := h.engine.Execution(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(snapshot)
}

// Register mounts the process API on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	d := router.Group("/definitions")
	d.Get("/", h.GetDefinitions)
	d.Post("/", h.DeployDefinition)
	d.Get("/:id", h.GetDefinition)

	router.Post("/processes/:id/start", h.StartProcess)

	m := router.Group("/messages")
	m.Get("/pending", h.GetPending)
	m.Post("/:name", h.Correlate)

	e := router.Group("/executions")
	e.Get("/", h.GetExecutions)
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/variables", h.GetVariables)
	e.Get("/:id/variables/:name", h.GetVariable)
	e.Post("/:id/cancel", h.CancelExecution)
}
