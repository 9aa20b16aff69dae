package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatreserve/pkg/errs"
)

func record(t *testing.T, handler gin.HandlerFunc) (int, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	handler(c)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(errs.Conflict("taken")))
	assert.Equal(t, http.StatusNotFound, StatusFor(errs.NotFound("gone")))
	assert.Equal(t, http.StatusForbidden, StatusFor(errs.Forbidden("no")))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(errs.Unavailable(nil, "down")))
	assert.Equal(t, http.StatusBadRequest, StatusFor(errs.Validation("bad")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errs.InvariantViolation("broken")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errs.New("boom")))
}

func TestRespondErrorIncludesConflictSeats(t *testing.T) {
	code, body := record(t, func(c *gin.Context) {
		RespondError(c, "Failed to hold seat", errs.Conflict("seat unavailable",
			errs.SeatConflict{SeatID: "s1", State: "HELD"}))
	})

	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "conflict", body["error_kind"])

	data := body["data"].(map[string]interface{})
	seats := data["seats"].([]interface{})
	require.Len(t, seats, 1)
	assert.Equal(t, "s1", seats[0].(map[string]interface{})["seat_id"])
}

func TestRespondJSONOmitsEmptyFields(t *testing.T) {
	code, body := record(t, func(c *gin.Context) {
		RespondJSON(c, "success", http.StatusOK, "ok", nil, nil)
	})

	assert.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, "data")
	assert.NotContains(t, body, "errors")
	assert.NotContains(t, body, "error_kind")
}

func TestValidationErrorsByField(t *testing.T) {
	type payload struct {
		Title string `binding:"required"`
		Count int    `binding:"min=1"`
	}
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	c.Request.Header.Set("Content-Type", "application/json")

	err := c.ShouldBindJSON(&payload{})
	require.Error(t, err)

	out, ok := ValidationErrors(err).(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "required", out["title"])
	assert.Equal(t, "min=1", out["count"])

	assert.Equal(t, "unexpected EOF", ValidationErrors(errs.New("unexpected EOF")))
}
