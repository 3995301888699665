package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func record(method string, fn func(c *gin.Context)) (*httptest.ResponseRecorder, Response) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, "/", nil)
	fn(c)

	var resp Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestSuccess_StatusByMethod(t *testing.T) {
	w, resp := record(http.MethodGet, func(c *gin.Context) { Success(c, gin.H{"ok": true}) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)

	w, _ = record(http.MethodPost, func(c *gin.Context) { Success(c, nil) })
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestOK_ReplayedPost(t *testing.T) {
	w, resp := record(http.MethodPost, func(c *gin.Context) { OK(c, gin.H{"replayed": true}) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]interface{}{"replayed": true}, resp.Data)
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "no error", status: http.StatusOK},
		{name: "record not found", err: fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound), status: http.StatusNotFound, code: ErrCodeNotFound},
		{name: "duplicate key", err: fmt.Errorf("store run: %w", gorm.ErrDuplicatedKey), status: http.StatusConflict, code: ErrCodeDuplicateResource},
		{name: "anything else", err: errors.New("disk full"), status: http.StatusInternalServerError, code: ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := record(http.MethodGet, func(c *gin.Context) { Handle(c, "data", tt.err) })
			assert.Equal(t, tt.status, w.Code)
			if tt.code == "" {
				assert.True(t, resp.Success)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, "disk full", "internal errors are not leaked")
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(c *gin.Context, message string)
		status int
		code   string
	}{
		{name: "bad request", fn: BadRequest, status: http.StatusBadRequest, code: ErrCodeBadRequest},
		{name: "unauthorized", fn: Unauthorized, status: http.StatusUnauthorized, code: ErrCodeUnauthorized},
		{name: "forbidden", fn: Forbidden, status: http.StatusForbidden, code: ErrCodeForbidden},
		{name: "not found", fn: NotFound, status: http.StatusNotFound, code: ErrCodeNotFound},
		{name: "validation failed", fn: ValidationFailed, status: http.StatusBadRequest, code: ErrCodeValidationFailed},
		{name: "state conflict", fn: StateConflict, status: http.StatusConflict, code: ErrCodeConflict},
		{name: "too many requests", fn: TooManyRequests, status: http.StatusTooManyRequests, code: ErrCodeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := record(http.MethodGet, func(c *gin.Context) { tt.fn(c, "message") })
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, "message", resp.Error.Message)
		})
	}
}
