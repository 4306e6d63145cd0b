//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracken-sec/conmon/internal/testutil"
)

type authorizationData struct {
	ServiceID string `json:"service_id"`
	Status    string `json:"status"`
	Metrics   struct {
		TotalIndicators     int     `json:"total_indicators"`
		CompliantIndicators int     `json:"compliant_indicators"`
		CompliancePercent   float64 `json:"compliance_percent"`
	} `json:"metrics"`
	AuthorizedAt     *string `json:"authorized_at"`
	NextAssessmentAt *string `json:"next_assessment_at"`
}

func getAuthorization(t *testing.T, serviceID string) authorizationData {
	t.Helper()

	resp, err := testClient.GET("/api/v1/authorizations/" + serviceID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data authorizationData `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

func TestAuthorization_RecountReflectsLedger(t *testing.T) {
	serviceID := newServiceID()
	createAuthorization(t, testClient, serviceID)

	createIndicator(t, testClient, serviceID, "KSI-CNA-01")
	compliant := createIndicator(t, testClient, serviceID, "KSI-CNA-02")

	resp, err := testClient.PATCH("/api/v1/indicators/"+compliant, map[string]interface{}{
		"compliance_status": "compliant",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// Ledger mutations trigger a recount, so counters are already current.
	auth := getAuthorization(t, serviceID)
	assert.Equal(t, 2, auth.Metrics.TotalIndicators)
	assert.Equal(t, 1, auth.Metrics.CompliantIndicators)
	assert.InDelta(t, 50.0, auth.Metrics.CompliancePercent, 0.01)

	// Explicit recount is idempotent.
	transition(t, testClient, "/api/v1/authorizations/"+serviceID+"/recount", nil, http.StatusOK)
	auth = getAuthorization(t, serviceID)
	assert.Equal(t, 2, auth.Metrics.TotalIndicators)
}

func TestAuthorization_Lifecycle(t *testing.T) {
	serviceID := newServiceID()
	createAuthorization(t, testClient, serviceID)
	base := "/api/v1/authorizations/" + serviceID

	// Granting out of order is rejected.
	transition(t, testClient, base+"/grant", nil, http.StatusConflict)

	transition(t, testClient, base+"/ready", nil, http.StatusOK)
	transition(t, testClient, base+"/submit", nil, http.StatusOK)
	transition(t, testClient, base+"/grant", nil, http.StatusOK)

	auth := getAuthorization(t, serviceID)
	assert.Equal(t, "authorized", auth.Status)
	assert.NotNil(t, auth.AuthorizedAt)
	assert.NotNil(t, auth.NextAssessmentAt)

	transition(t, testClient, base+"/revoke", nil, http.StatusOK)
	auth = getAuthorization(t, serviceID)
	assert.Equal(t, "revoked", auth.Status)

	// Revoked is terminal.
	transition(t, testClient, base+"/withdraw", nil, http.StatusConflict)
}

func TestAuthorization_DuplicateService(t *testing.T) {
	serviceID := newServiceID()
	createAuthorization(t, testClient, serviceID)

	resp, err := testClient.POST("/api/v1/authorizations", map[string]interface{}{
		"service_id":   serviceID,
		"service_name": "payments-api",
		"impact_tier":  "moderate",
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
