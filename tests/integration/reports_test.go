//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracken-sec/conmon/internal/testutil"
)

type reportData struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Period struct {
		Year    int `json:"year"`
		Quarter int `json:"quarter"`
	} `json:"period"`
	Narrative  string  `json:"narrative"`
	Digest     *string `json:"digest"`
	Indicators struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	} `json:"indicators"`
	Incidents struct {
		Total int `json:"total"`
	} `json:"incidents"`
}

func generateReport(t *testing.T, serviceID string, year, quarter int) reportData {
	t.Helper()

	resp, err := testClient.POST("/api/v1/reports", map[string]interface{}{
		"service_id": serviceID,
		"year":       year,
		"quarter":    quarter,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data reportData `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

func currentQuarter() (int, int) {
	now := time.Now().UTC()
	return now.Year(), int(now.Month()-1)/3 + 1
}

func TestReports_GenerateCapturesLedger(t *testing.T) {
	serviceID := newServiceID()
	compliant := createIndicator(t, testClient, serviceID, "KSI-CNA-01")
	createIndicator(t, testClient, serviceID, "KSI-CNA-02")

	resp, err := testClient.PATCH("/api/v1/indicators/"+compliant, map[string]interface{}{
		"compliance_status": "compliant",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	createIncident(t, testClient, serviceID, "moderate")

	year, quarter := currentQuarter()
	report := generateReport(t, serviceID, year, quarter)

	assert.Equal(t, "draft", report.Status)
	assert.Equal(t, 2, report.Indicators.Total)
	assert.Equal(t, 1, report.Indicators.ByStatus["compliant"])
	assert.Equal(t, 1, report.Incidents.Total)
}

func TestReports_DuplicatePeriod(t *testing.T) {
	serviceID := newServiceID()
	year, quarter := currentQuarter()
	generateReport(t, serviceID, year, quarter)

	resp, err := testClient.POST("/api/v1/reports", map[string]interface{}{
		"service_id": serviceID,
		"year":       year,
		"quarter":    quarter,
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReports_SubmitSealsReport(t *testing.T) {
	serviceID := newServiceID()
	year, quarter := currentQuarter()
	report := generateReport(t, serviceID, year, quarter)
	base := "/api/v1/reports/" + report.ID

	resp, err := testClient.PUT(base+"/narrative", map[string]string{
		"narrative": "No significant posture changes this quarter.",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// Submission requires a recorded attestation.
	transition(t, testClient, base+"/submit", nil, http.StatusConflict)

	transition(t, testClient, base+"/attestation", map[string]string{
		"role":      "ciso",
		"statement": "I attest the contents are accurate and complete.",
	}, http.StatusOK)
	transition(t, testClient, base+"/submit", nil, http.StatusOK)

	resp, err = testClient.GET(base)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data reportData `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, "submitted", result.Data.Status)
	require.NotNil(t, result.Data.Digest)
	assert.Len(t, *result.Data.Digest, 64)

	// The sealed report rejects narrative edits.
	resp, err = testClient.PUT(base+"/narrative", map[string]string{"narrative": "revised"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReports_ReviewCommentsAfterSubmission(t *testing.T) {
	serviceID := newServiceID()
	year, quarter := currentQuarter()
	report := generateReport(t, serviceID, year, quarter)
	base := "/api/v1/reports/" + report.ID

	transition(t, testClient, base+"/attestation", map[string]string{
		"statement": "Attested.",
	}, http.StatusOK)
	transition(t, testClient, base+"/submit", nil, http.StatusOK)

	resp, err := testClient.As("reviewer@example.com").POST(base+"/comments", map[string]string{
		"comment": "Clarify the incident containment time in Q narrative.",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = testClient.GET(base + "/comments")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []struct {
			Author  string `json:"author"`
			Comment string `json:"comment"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.Len(t, result.Data, 1)
	assert.Equal(t, "reviewer@example.com", result.Data[0].Author)
}

func TestReports_ListByService(t *testing.T) {
	serviceID := newServiceID()
	generateReport(t, serviceID, 2025, 4)
	generateReport(t, serviceID, 2026, 1)

	resp, err := testClient.GET("/api/v1/services/" + serviceID + "/reports")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []reportData `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.Len(t, result.Data, 2)
	// Newest period first.
	assert.Equal(t, 2026, result.Data[0].Period.Year)
}
