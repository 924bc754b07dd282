package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/chorus/plugin/ai/agent"
)

func TestFromTurnError(t *testing.T) {
	tests := []struct {
		err       error
		code      ErrorCode
		status    int
		retryable bool
	}{
		{err: agent.ErrUnknownPersona, code: ErrCodeAgentNotFound, status: http.StatusNotFound},
		{err: fmt.Errorf("open: %w", agent.ErrGenerationUnavailable), code: ErrCodeLLMUnavailable, status: http.StatusServiceUnavailable, retryable: true},
		{err: fmt.Errorf("save: %w", agent.ErrPersistFailed), code: ErrCodeServiceUnavailable, status: http.StatusServiceUnavailable, retryable: true},
		{err: agent.ErrStreamInterrupted, code: ErrCodeAgentExecutionFailed, status: http.StatusBadGateway, retryable: true},
		{err: agent.ErrEmptyReply, code: ErrCodeAgentExecutionFailed, status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := FromTurnError(tt.err)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.status, got.HTTPStatus())
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestCodeHelpers(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFound("conversation not found"))
	assert.True(t, IsCode(err, ErrCodeNotFound))
	assert.False(t, IsCode(err, ErrCodeInternal))
	assert.Equal(t, ErrCodeNotFound, GetCodeFromError(err, ErrCodeInternal))
	assert.Equal(t, ErrCodeInternal, GetCodeFromError(errors.New("boom"), ErrCodeInternal))

	internal := Internal("failed", errors.New("disk full"))
	assert.Equal(t, "[INTERNAL] failed: disk full", internal.Error())
	assert.Equal(t, "[NOT_FOUND] x", NotFound("x").Error())
	assert.Equal(t, http.StatusInternalServerError, (&AIError{Code: "UNKNOWN"}).HTTPStatus())
}
