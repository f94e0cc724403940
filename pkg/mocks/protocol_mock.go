package mocks

import (
	"context"
	"log/slog"

	"github.com/dukex/procflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockServiceInvoker is a mock implementation of protocol.ServiceInvoker interface.
type MockServiceInvoker struct {
	mock.Mock
}

func (m *MockServiceInvoker) Invoke(ctx context.Context, request protocol.ServiceRequest) (protocol.ServiceResponse, error) {
	args := m.Called(ctx, request)

	return args.Get(0).(protocol.ServiceResponse), args.Error(1)
}

// MockDelegate is a mock implementation of protocol.Delegate interface.
type MockDelegate struct {
	mock.Mock
}

func (m *MockDelegate) Execute(ctx context.Context, execution protocol.DelegateExecution, logger *slog.Logger) error {
	args := m.Called(ctx, execution, logger)

	return args.Error(0)
}

// MockDelegateExecution is a mock implementation of protocol.DelegateExecution interface.
type MockDelegateExecution struct {
	mock.Mock
}

func (m *MockDelegateExecution) ExecutionID() string {
	return m.Called().String(0)
}

func (m *MockDelegateExecution) DefinitionID() string {
	return m.Called().String(0)
}

func (m *MockDelegateExecution) ActivityID() string {
	return m.Called().String(0)
}

func (m *MockDelegateExecution) Variable(name string) (any, bool) {
	args := m.Called(name)

	return args.Get(0), args.Bool(1)
}

func (m *MockDelegateExecution) Variables() map[string]any {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(map[string]any)
}

func (m *MockDelegateExecution) SetVariable(name string, value any) {
	m.Called(name, value)
}

func (m *MockDelegateExecution) SetVariableLocal(name string, value any) {
	m.Called(name, value)
}
