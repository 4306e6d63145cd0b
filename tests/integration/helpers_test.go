//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bracken-sec/conmon/internal/testutil"
)

// idResponse decodes the {"data": {"id": ...}} envelope.
type idResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// createdID performs the request, asserts 201 and returns the new record ID.
func createdID(t *testing.T, resp *http.Response, err error) string {
	t.Helper()
	require.NoError(t, err)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, testutil.ReadBody(t, resp))
	}

	var result idResponse
	testutil.DecodeJSON(t, resp, &result)
	require.NotEmpty(t, result.Data.ID)
	return result.Data.ID
}

// transition posts to the given path and asserts the expected status.
func transition(t *testing.T, client *testutil.Client, path string, body interface{}, wantStatus int) {
	t.Helper()

	resp, err := client.POST(path, body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, wantStatus, resp.StatusCode, "POST %s", path)
}

// createIndicator registers a ledger record and returns its ID.
func createIndicator(t *testing.T, client *testutil.Client, serviceID, reference string) string {
	t.Helper()

	resp, err := client.POST("/api/v1/indicators", map[string]interface{}{
		"service_id":          serviceID,
		"reference":           reference,
		"category":            "cloud_native_architecture",
		"name":                fmt.Sprintf("Indicator %s", reference),
		"applicable_moderate": true,
	})
	return createdID(t, resp, err)
}

// createIncident records an incident and returns its ID.
func createIncident(t *testing.T, client *testutil.Client, serviceID, severity string) string {
	t.Helper()

	resp, err := client.POST("/api/v1/incidents", map[string]interface{}{
		"service_id":       serviceID,
		"title":            "Suspicious egress traffic",
		"category":         "unauthorized_access",
		"severity":         severity,
		"detection_source": "network monitor",
	})
	return createdID(t, resp, err)
}

// createChange drafts a change request and returns its ID.
func createChange(t *testing.T, client *testutil.Client, serviceID string, securityReview bool) string {
	t.Helper()

	resp, err := client.POST("/api/v1/changes", map[string]interface{}{
		"service_id":               serviceID,
		"title":                    "Rotate TLS certificates",
		"type":                     "security",
		"security_review_required": securityReview,
	})
	return createdID(t, resp, err)
}

// createAuthorization registers a service authorization record.
func createAuthorization(t *testing.T, client *testutil.Client, serviceID string) {
	t.Helper()

	resp, err := client.POST("/api/v1/authorizations", map[string]interface{}{
		"service_id":   serviceID,
		"service_name": "payments-api",
		"impact_tier":  "moderate",
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// newServiceID returns a fresh service identifier for test isolation.
func newServiceID() string {
	return uuid.NewString()
}
