package pagecheck

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-pagecheck/runner"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// MockExecutorRunner is a mock implementation of the TestRunner interface for testing the executor
type MockExecutorRunner struct {
	mock.Mock
}

func (m *MockExecutorRunner) RunAllTests(ctx context.Context) (*runner.RunnerResult, error) {
	args := m.Called(ctx)
	result := args.Get(0)
	err := args.Error(1)
	if result == nil {
		return nil, err
	}
	return result.(*runner.RunnerResult), err
}

func (m *MockExecutorRunner) RunScenario(ctx context.Context, work runner.ScenarioWork) *types.ExecutionResult {
	args := m.Called(ctx, work)
	if res := args.Get(0); res != nil {
		return res.(*types.ExecutionResult)
	}
	return nil
}

func TestDefaultTestExecutor_RunTests_Success(t *testing.T) {
	mockRunner := new(MockExecutorRunner)
	expectedResult := &runner.RunnerResult{
		RunID:  "test-run-1",
		Status: types.TestStatusPass,
		Stats: runner.ResultStats{
			Total:  5,
			Passed: 5,
		},
	}
	mockRunner.On("RunAllTests", mock.Anything).Return(expectedResult, nil)

	executor := NewDefaultTestExecutor(mockRunner, log.New())
	result, err := executor.RunTests(context.Background())

	require.NoError(t, err)
	assert.Equal(t, expectedResult, result)
	mockRunner.AssertExpectations(t)
}

func TestDefaultTestExecutor_RunTests_Error(t *testing.T) {
	mockRunner := new(MockExecutorRunner)
	mockRunner.On("RunAllTests", mock.Anything).Return(nil, runner.ErrNoScenarios)

	executor := NewDefaultTestExecutor(mockRunner, log.New())
	result, err := executor.RunTests(context.Background())

	assert.Nil(t, result)
	assert.True(t, errors.Is(err, runner.ErrNoScenarios))
	mockRunner.AssertExpectations(t)
}

func TestDefaultTestExecutor_PassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "run")

	mockRunner := new(MockExecutorRunner)
	mockRunner.On("RunAllTests", mock.MatchedBy(func(c context.Context) bool {
		return c.Value(key{}) == "run"
	})).Return(&runner.RunnerResult{Status: types.TestStatusPass}, nil)

	_, err := NewDefaultTestExecutor(mockRunner, log.New()).RunTests(ctx)
	require.NoError(t, err)
	mockRunner.AssertExpectations(t)
}
