package web

import (
	"github.com/dukex/procflow/pkg/correlation"
	"github.com/dukex/procflow/pkg/definition"
	"github.com/dukex/procflow/pkg/engine"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind string, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine, correlation and definition errors to problems.
// instance overrides the request path when the failure belongs to an execution.
func handleEngineError(c fiber.Ctx, err error, instance string) error {
	if instance == "" {
		instance = c.Path()
	}

	status, kind := classify(err)

	problem := problems.NewStatusProblem(status).
		WithInstance(instance).
		WithType(kind).
		WithDetail(err.Error())

	return c.Status(status).JSON(problem)
}

func classify(err error) (int, string) {
	switch {
	case definition.IsDefinitionNotFound(err):
		return fiber.StatusNotFound, "definition_not_found"
	case engine.IsExecutionNotFound(err):
		return fiber.StatusNotFound, "execution_not_found"
	case engine.IsVariableNotFound(err):
		return fiber.StatusNotFound, "variable_not_found"
	case correlation.IsNoMatchingExecution(err):
		return fiber.StatusNotFound, "no_matching_execution"
	case definition.IsStructuralError(err), definition.IsInvalidDocument(err):
		return fiber.StatusUnprocessableEntity, "invalid_definition"
	case correlation.IsAmbiguousCorrelation(err):
		return fiber.StatusConflict, "ambiguous_correlation"
	case correlation.IsDuplicateCorrelation(err):
		return fiber.StatusConflict, "duplicate_correlation"
	case engine.IsInvalidTransition(err):
		return fiber.StatusConflict, "invalid_transition"
	case engine.IsCollaboratorFailure(err):
		return fiber.StatusBadGateway, "collaborator_failure"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}
