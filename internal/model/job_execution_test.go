package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobExecution_Finish(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)

	exec := NewJobExecution("seed", start)
	assert.Equal(t, JobStatusRunning, exec.Status)
	assert.Zero(t, exec.Duration())

	exec.Finish(start.Add(1500*time.Millisecond), nil, ExecutionResult{"affected_count": 1})
	assert.Equal(t, JobStatusSuccess, exec.Status)
	assert.Equal(t, 1500*time.Millisecond, exec.Duration())
	require.NotNil(t, exec.FinishedAt)
	assert.Nil(t, exec.ErrorMessage)
	assert.Equal(t, 1, exec.Result["affected_count"])

	failed := NewJobExecution("seed", start)
	failed.Finish(start.Add(time.Second), errors.New("broker down"), ExecutionResult{"x": 1})
	assert.Equal(t, JobStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "broker down", *failed.ErrorMessage)
	assert.Nil(t, failed.Result)
}

func TestNewInstantExecution(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	exec := NewInstantExecution("seed", JobStatusSkipped, at, "locked elsewhere")

	assert.Equal(t, JobStatusSkipped, exec.Status)
	assert.Equal(t, at.UnixMilli(), exec.StartedAt)
	assert.Equal(t, at.UnixMilli(), *exec.FinishedAt)
	assert.Zero(t, exec.Duration())
	assert.Equal(t, "locked elsewhere", *exec.ErrorMessage)
}

func TestExecutionResult_ValueScan(t *testing.T) {
	v, err := ExecutionResult{"processed_count": 3}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"processed_count":3}`, v)

	var r ExecutionResult
	require.NoError(t, r.Scan([]byte(`{"a":"b"}`)))
	assert.Equal(t, "b", r["a"])
	require.NoError(t, r.Scan(nil))
	assert.Nil(t, r)
	assert.Error(t, r.Scan(42))
}
