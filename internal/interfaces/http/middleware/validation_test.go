package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validationTestRequest struct {
	Resource string `json:"resource" binding:"required"`
	Amount   int64  `json:"amount" binding:"gte=1"`
}

func TestSetupValidator_UsesJSONFieldNames(t *testing.T) {
	gin.SetMode(gin.TestMode)
	SetupValidator()

	router := gin.New()
	router.Use(RequestID())
	router.POST("/usage", func(c *gin.Context) {
		var req validationTestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/usage", strings.NewReader(`{"amount": 0}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := w.Body.String()
	// Details use the json tag names, not the Go field names
	assert.Contains(t, body, `"resource"`)
	assert.Contains(t, body, "This field is required")
	assert.Contains(t, body, `"amount"`)
	assert.Contains(t, body, "greater than or equal to 1")
	assert.NotContains(t, body, "Resource")
}

func TestHandleValidationError_NonValidatorError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.POST("/usage", func(c *gin.Context) {
		var req validationTestRequest
		err := c.ShouldBindJSON(&req)
		require.Error(t, err)
		HandleValidationError(c, err)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/usage", strings.NewReader(`not json`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Request validation failed")
}
