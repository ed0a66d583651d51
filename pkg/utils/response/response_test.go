package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"judgebox/pkg/errors"

	"github.com/gin-gonic/gin"
)

func TestErrorUsesCodeStatusAndTraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   errors.ErrorCode
	}{
		{name: "queue full", err: errors.New(errors.JudgeQueueFull), wantStatus: http.StatusServiceUnavailable, wantCode: errors.JudgeQueueFull},
		{name: "validation", err: errors.ValidationError("code", "required"), wantStatus: http.StatusBadRequest, wantCode: errors.ValidationFailed},
		{name: "plain error", err: http.ErrBodyNotAllowed, wantStatus: http.StatusInternalServerError, wantCode: errors.InternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Set("trace_id", "trace-1")

			Error(c, tc.err)

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			var resp Response
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if resp.Code != tc.wantCode || resp.TraceID != "trace-1" {
				t.Fatalf("unexpected body: %+v", resp)
			}
		})
	}
}
