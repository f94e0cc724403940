package engine

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/definition"
	"github.com/dukex/procflow/pkg/delegates/recorder"
	"github.com/dukex/procflow/pkg/delegates/sendemail"
	"github.com/dukex/procflow/pkg/history"
	"github.com/dukex/procflow/pkg/invokers/stub"
	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/mocks"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/processes"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/scripts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const createUserEndpoint = "http://svc/create-user"

type fixture struct {
	engine      *Engine
	definitions *definition.Repository
	registry    *registry.Registry
	invoker     *stub.Invoker
	email       *recorder.Delegate
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	repo := definition.NewRepository(log.Discard())
	require.NoError(t, processes.Deploy(context.Background(), repo))

	reg := registry.NewRegistry(log.Discard())
	scripts.RegisterBuiltins(reg)

	email := recorder.New(sendemail.Name).Then(sendemail.New().Execute)
	reg.RegisterDelegate(sendemail.Name, email)

	invoker := stub.New()

	opts = append([]Option{
		WithLogger(log.Discard()),
		WithEndpointVariables(map[string]string{"SERVICE_API": "http://svc"}),
	}, opts...)

	return &fixture{
		engine:      New(repo, reg, invoker, opts...),
		definitions: repo,
		registry:    reg,
		invoker:     invoker,
		email:       email,
	}
}

func (f *fixture) deploy(t *testing.T, definitions ...*models.ProcessDefinition) {
	t.Helper()

	for _, def := range definitions {
		require.NoError(t, f.definitions.Deploy(context.Background(), def))
	}
}

func registrationVars() map[string]any {
	return map[string]any{
		"userName":  "Test User",
		"userEmail": "test.user@example.com",
	}
}

// waitingDefinition suspends on message keyed by the orderId variable.
func waitingDefinition(id, message string) *models.ProcessDefinition {
	return &models.ProcessDefinition{
		ID: id,
		Activities: []*models.Activity{
			{ID: "wait", Kind: models.ActivityKindReceiveMessage, Message: message, CorrelationKey: "orderId", Next: "end"},
			{ID: "end", Kind: models.ActivityKindEnd},
		},
	}
}

func TestEngine_RegistrationSuspendsAtConfirmation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	id, err := f.engine.Start(ctx, processes.UserRegistration, registrationVars())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.True(t, f.engine.IsWaitingAt(ctx, id, processes.WaitForConfirmation))
	assert.False(t, f.engine.IsEnded(ctx, id))

	require.Equal(t, 1, f.email.Count())
	invocation := f.email.Invocations()[0]
	assert.Equal(t, id, invocation.ExecutionID)
	assert.Equal(t, "send-email-confirmation", invocation.ActivityID)
	assert.NotEmpty(t, invocation.Variables["confirmationToken"])

	calls := f.invoker.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, createUserEndpoint, calls[0].Endpoint)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "Test User", calls[0].Payload["userName"])
	assert.Contains(t, calls[0].Payload, "userId")
	assert.NotContains(t, calls[0].Payload, "confirmationToken")

	sent, err := f.engine.GetVariable(ctx, id, "emailSent")
	require.NoError(t, err)
	assert.Equal(t, true, sent)

	pending := f.engine.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, processes.EmailConfirmedMessage, pending[0].Message)
	assert.Equal(t, id, pending[0].ExecutionID)
}

func TestEngine_RegistrationCompletesAfterConfirmation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	id, err := f.engine.Start(ctx, processes.UserRegistration, registrationVars())
	require.NoError(t, err)

	userID, err := f.engine.GetVariable(ctx, id, "userId")
	require.NoError(t, err)

	err = f.engine.Correlate(ctx, processes.EmailConfirmedMessage, userID.(string), map[string]any{"emailConfirmed": true})
	require.NoError(t, err)

	assert.True(t, f.engine.IsEnded(ctx, id))

	next, err := f.engine.GetVariable(ctx, id, "nextProcess")
	require.NoError(t, err)
	assert.Equal(t, scripts.NextProcess, next)

	chosen, err := f.engine.GetVariable(ctx, id, "processChosen")
	require.NoError(t, err)
	assert.Equal(t, true, chosen)

	confirmed, err := f.engine.GetVariable(ctx, id, "emailConfirmed")
	require.NoError(t, err)
	assert.Equal(t, true, confirmed)

	assert.Empty(t, f.engine.Pending())
	assert.Equal(t, 1, f.email.Count())
}

func TestEngine_ServiceFailureStopsExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.invoker.Respond(createUserEndpoint, protocol.ServiceResponse{StatusCode: http.StatusInternalServerError})

	id, err := f.engine.Start(ctx, processes.UserRegistration, registrationVars())
	require.Error(t, err)
	require.NotEmpty(t, id)
	assert.True(t, IsCollaboratorFailure(err))

	snapshot, err := f.engine.Execution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, snapshot.Status)
	assert.Equal(t, "create-registration-task", snapshot.FailedActivityID)
	assert.Contains(t, snapshot.Error, "500")
	require.NotNil(t, snapshot.FinishedAt)

	assert.Equal(t, 0, f.email.Count())
	assert.False(t, f.engine.IsEnded(ctx, id))
	assert.Empty(t, f.engine.Pending())

	name, err := f.engine.GetVariable(ctx, id, "userName")
	require.NoError(t, err)
	assert.Equal(t, "Test User", name)
}

func TestEngine_ServiceTransportErrorFailsExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.invoker.Fail(createUserEndpoint, context.DeadlineExceeded)

	id, err := f.engine.Start(ctx, processes.UserRegistration, registrationVars())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCollaboratorFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snapshot, err := f.engine.Execution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, snapshot.Status)
}

func TestEngine_ServiceResponseVariablesAreMerged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.invoker.Respond(createUserEndpoint, protocol.ServiceResponse{
		StatusCode: http.StatusCreated,
		Variables:  map[string]any{"accountId": "acc-1"},
	})

	id, err := f.engine.Start(ctx, processes.UserRegistration, registrationVars())
	require.NoError(t, err)

	account, err := f.engine.GetVariable(ctx, id, "accountId")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", account)
}

func TestEngine_ExecutionVariablesOverrideEndpointVariables(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	vars := registrationVars()
	vars["SERVICE_API"] = "http://other"

	_, err := f.engine.Start(ctx, processes.UserRegistration, vars)
	require.NoError(t, err)

	calls := f.invoker.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "http://other/create-user", calls[0].Endpoint)
}

func TestEngine_EndpointsSeeOnlyAllowedEnvironment(t *testing.T) {
	t.Setenv("PROCFLOW_TEST_REGION", "eu")
	t.Setenv("PROCFLOW_TEST_SECRET", "s3cr3t")

	f := newFixture(t, WithEnvironment("PROCFLOW_TEST_REGION", "PROCFLOW_TEST_UNSET"))
	ctx := context.Background()

	for id, endpoint := range map[string]string{
		"regional":  "http://svc/${PROCFLOW_TEST_REGION}/ping",
		"leaky":     "http://svc/${PROCFLOW_TEST_SECRET}",
		"templated": "http://svc/{{ .env.PROCFLOW_TEST_SECRET }}",
	} {
		f.deploy(t, &models.ProcessDefinition{
			ID: id,
			Activities: []*models.Activity{
				{ID: "call", Kind: models.ActivityKindServiceCall, Endpoint: endpoint, Next: "end"},
				{ID: "end", Kind: models.ActivityKindEnd},
			},
		})
	}

	id, err := f.engine.Start(ctx, "regional", nil)
	require.NoError(t, err)
	assert.True(t, f.engine.IsEnded(ctx, id))

	for _, definitionID := range []string{"leaky", "templated"} {
		_, err = f.engine.Start(ctx, definitionID, nil)
		require.ErrorIs(t, err, ErrActivityFailed, definitionID)
	}

	calls := f.invoker.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "http://svc/eu/ping", calls[0].Endpoint)
}

func TestEngine_StartUnknownDefinition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	id, err := f.engine.Start(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Empty(t, id)
	assert.True(t, definition.IsDefinitionNotFound(err))
	assert.Empty(t, f.engine.List())
}

func TestEngine_InspectionErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.GetVariable(ctx, "missing", "userId")
	assert.True(t, IsExecutionNotFound(err))

	_, err = f.engine.Execution(ctx, "missing")
	assert.True(t, IsExecutionNotFound(err))

	assert.False(t, f.engine.IsWaitingAt(ctx, "missing", processes.WaitForConfirmation))
	assert.False(t, f.engine.IsEnded(ctx, "missing"))

	id, err := f.engine.Start(ctx, processes.UserRegistration, registrationVars())
	require.NoError(t, err)

	_, err = f.engine.GetVariable(ctx, id, "doesNotExist")
	assert.True(t, IsVariableNotFound(err))

	vars, err := f.engine.Variables(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "test.user@example.com", vars["userEmail"])
}

func TestEngine_MissingScriptFailsExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.deploy(t, &models.ProcessDefinition{
		ID: "broken-script",
		Activities: []*models.Activity{
			{ID: "init", Kind: models.ActivityKindScriptInit, Script: "nope", Next: "end"},
			{ID: "end", Kind: models.ActivityKindEnd},
		},
	})

	id, err := f.engine.Start(context.Background(), "broken-script", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrScriptNotRegistered)

	snapshot, err := f.engine.Execution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, snapshot.Status)
	assert.Equal(t, "init", snapshot.FailedActivityID)
}

func TestEngine_DelegateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		behavior protocol.DelegateFunc
	}{
		{
			name: "error",
			behavior: func(context.Context, protocol.DelegateExecution, *slog.Logger) error {
				return assert.AnError
			},
		},
		{
			name: "panic",
			behavior: func(context.Context, protocol.DelegateExecution, *slog.Logger) error {
				panic("boom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.email.Then(tt.behavior)

			id, err := f.engine.Start(context.Background(), processes.UserRegistration, registrationVars())
			require.Error(t, err)
			assert.True(t, IsCollaboratorFailure(err))

			snapshot, err := f.engine.Execution(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusFailed, snapshot.Status)
			assert.Equal(t, "send-email-confirmation", snapshot.FailedActivityID)
			assert.Empty(t, f.engine.Pending())
		})
	}
}

func TestEngine_DelegateVariableScopes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.email.Then(func(_ context.Context, execution protocol.DelegateExecution, _ *slog.Logger) error {
		execution.SetVariableLocal("draft", "local only")
		execution.SetVariable("shared", "visible")

		draft, ok := execution.Variable("draft")
		if !ok || draft != "local only" {
			return assert.AnError
		}

		return nil
	})

	id, err := f.engine.Start(ctx, processes.UserRegistration, registrationVars())
	require.NoError(t, err)

	shared, err := f.engine.GetVariable(ctx, id, "shared")
	require.NoError(t, err)
	assert.Equal(t, "visible", shared)

	_, err = f.engine.GetVariable(ctx, id, "draft")
	assert.True(t, IsVariableNotFound(err))
}

func TestEngine_DelegateReceivesExecutionView(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	audit := &mocks.MockDelegate{}
	audit.On("Execute", mock.Anything, mock.MatchedBy(func(execution protocol.DelegateExecution) bool {
		orderID, ok := execution.Variable("orderId")

		return ok && orderID == "o-7" &&
			execution.DefinitionID() == "audit-process" &&
			execution.ActivityID() == "audit"
	}), mock.Anything).Return(nil).Once()

	f.registry.RegisterDelegate("auditDelegate", audit)
	f.deploy(t, &models.ProcessDefinition{
		ID: "audit-process",
		Activities: []*models.Activity{
			{ID: "audit", Kind: models.ActivityKindDelegateTask, Delegate: "auditDelegate", Next: "end"},
			{ID: "end", Kind: models.ActivityKindEnd},
		},
	})

	id, err := f.engine.Start(ctx, "audit-process", map[string]any{"orderId": "o-7"})
	require.NoError(t, err)
	assert.True(t, f.engine.IsEnded(ctx, id))

	audit.AssertExpectations(t)
}

func TestEngine_ListAndPrune(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	waiting, err := f.engine.Start(ctx, processes.UserRegistration, registrationVars())
	require.NoError(t, err)

	f.invoker.Respond(createUserEndpoint, protocol.ServiceResponse{StatusCode: http.StatusBadGateway})

	failed, err := f.engine.Start(ctx, processes.UserRegistration, registrationVars())
	require.Error(t, err)

	assert.Len(t, f.engine.List(), 2)

	pruned, err := f.engine.Prune(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	live := f.engine.List()
	require.Len(t, live, 1)
	assert.Equal(t, waiting, live[0].ID)

	snapshot, err := f.engine.Execution(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, snapshot.Status)

	name, err := f.engine.GetVariable(ctx, failed, "userName")
	require.NoError(t, err)
	assert.Equal(t, "Test User", name)
}

func TestEngine_IDGeneratorAndClock(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ids := []string{"exec-1", "event-1", "event-2", "event-3"}
	next := 0

	f := newFixture(t,
		WithClock(func() time.Time { return started }),
		WithIDGenerator(func() string {
			id := ids[next%len(ids)]
			next++

			return id
		}))

	id, err := f.engine.Start(context.Background(), processes.UserRegistration, registrationVars())
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)

	snapshot, err := f.engine.Execution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, started, snapshot.StartedAt)

	date, err := f.engine.GetVariable(context.Background(), id, "registrationDate")
	require.NoError(t, err)
	assert.Equal(t, started, date)
}

func TestEngine_ArchivesFinishedExecutions(t *testing.T) {
	t.Parallel()

	store := history.NewMemoryStore()
	f := newFixture(t, WithHistory(store))
	ctx := context.Background()

	id, err := f.engine.Start(ctx, processes.UserRegistration, registrationVars())
	require.NoError(t, err)

	_, err = store.Get(ctx, id)
	require.ErrorIs(t, err, history.ErrNotFound)

	userID, err := f.engine.GetVariable(ctx, id, "userId")
	require.NoError(t, err)
	require.NoError(t, f.engine.Correlate(ctx, processes.EmailConfirmedMessage, userID.(string), nil))

	archived, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusEnded, archived.Status)
	assert.Equal(t, scripts.NextProcess, archived.Variables["nextProcess"])

	snapshots, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}
