package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondJSON(rr, http.StatusCreated, map[string]int{"n": 1})

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.JSONEq(t, `{"n":1}`, rr.Body.String())
}

func TestRespondError(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, http.StatusTooManyRequests, CodeRateLimited, errors.New("slow down"))

	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, ErrorResponse{
		Error:   "Too Many Requests",
		Code:    CodeRateLimited,
		Message: "slow down",
	}, resp)
}
