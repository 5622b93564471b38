package api_test

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteFlow(t *testing.T) {
	email := uniqueEmail("e2e")

	// Submit
	createResp := makeRequest("POST", "/quotes", map[string]interface{}{
		"email":       email,
		"name":        "E2E Buyer",
		"productName": "Garden Bench",
		"sku":         "GB-100",
		"material":    "oak",
		"images": []map[string]interface{}{
			{"publicId": "quotes/e2e", "secureUrl": "https://media.example.com/e2e.jpg", "width": 640, "height": 480},
		},
	}, "")
	require.Equal(t, http.StatusCreated, createResp.StatusCode, "submit failed: %s", createResp.Message)
	assert.True(t, createResp.Success)
	require.NotEmpty(t, createResp.QuoteID)
	require.NotEmpty(t, createResp.PublicToken)
	assert.Empty(t, createResp.FailedImages)

	// Read back with the public token
	getResp := makeRequest("GET", fmt.Sprintf("/quotes/%s?token=%s", createResp.QuoteID, url.QueryEscape(createResp.PublicToken)), nil, "")
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	data := getResp.DataMap()
	assert.Equal(t, email, data["email"])
	assert.Equal(t, "Garden Bench", data["productName"])
	assert.Contains(t, []interface{}{"NEW", "FORWARDED"}, data["status"])

	// Wrong token looks like a missing quote
	badResp := makeRequest("GET", fmt.Sprintf("/quotes/%s?token=wrong", createResp.QuoteID), nil, "")
	assert.Equal(t, http.StatusNotFound, badResp.StatusCode)
	assert.False(t, badResp.Success)
}

func TestQuoteValidation(t *testing.T) {
	resp := makeRequest("POST", "/quotes", map[string]interface{}{"name": "No Email"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, resp.Success)
	assert.Equal(t, "email is required", resp.Message)

	resp = makeRequest("POST", "/quotes", map[string]interface{}{"email": "   "}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminQueue(t *testing.T) {
	if adminToken == "" {
		t.Skip("QUOTE_E2E_ADMIN_TOKEN not set")
	}

	resp := makeRequest("GET", "/admin/quotes/pending", nil, adminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Message)
	data := resp.DataMap()
	assert.Contains(t, data, "entries")
	assert.Contains(t, data, "maxRetries")

	resp = makeRequest("GET", "/admin/quotes/dead-letters", nil, adminToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = makeRequest("DELETE", "/admin/quotes/pending/does-not-exist", nil, adminToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, resp.DataMap()["removed"])

	resp = makeRequest("GET", "/admin/quotes/pending", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
