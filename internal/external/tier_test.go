package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"notemeter/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTierClient(t *testing.T, handler http.HandlerFunc) *TierHTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := NewBaseClient(server.Client(), "tier-test", RetryPolicy{MaxRetries: 1}, "notemeter-test", WithSleepFunc(noopSleep))
	return NewTierClientWithBase(base, TierClientConfig{APIKey: "tk_test", BaseURL: server.URL + "/"})
}

func TestTierCanUse(t *testing.T) {
	client := newTestTierClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/limits", r.URL.Path)
		assert.Equal(t, "org:u1", r.URL.Query().Get("org"))
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "tk_test", user)

		w.Write([]byte(`{"org":"org:u1","usage":[
			{"feature":"feature:notes:total","used":3,"limit":10},
			{"feature":"feature:notes:edit","used":100,"limit":100}
		]}`))
	})

	usage, err := client.CanUse(context.Background(), "org:u1", types.FeatureNotesTotal)
	require.NoError(t, err)
	assert.Equal(t, types.Usage{Feature: types.FeatureNotesTotal, Used: 3, Limit: 10}, *usage)
	assert.True(t, usage.Allows())

	usage, err = client.CanUse(context.Background(), "org:u1", types.FeatureNotesEdit)
	require.NoError(t, err)
	assert.False(t, usage.Allows())

	usage, err = client.CanUse(context.Background(), "org:u1", "feature:unknown")
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.Limit)
	assert.False(t, usage.Allows())
}

func TestTierReport(t *testing.T) {
	var got tierReportRequest
	client := newTestTierClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/report", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{}`))
	})

	err := client.Report(context.Background(), types.UsageReport{
		Subject: "org:u1", Feature: types.FeatureNotesTotal, N: 7, Clobber: true,
	})
	require.NoError(t, err)

	assert.Equal(t, types.Subject("org:u1"), got.Org)
	assert.Equal(t, int64(7), got.N)
	assert.True(t, got.Clobber)
	assert.False(t, got.At.IsZero(), "zero timestamp should default to now")
}

func TestTierReportRejectedIsPermanent(t *testing.T) {
	client := newTestTierClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":400,"code":"invalid_request","message":"n must be positive"}`))
	})

	err := client.Report(context.Background(), types.UsageReport{
		Subject: "org:u1", Feature: types.FeatureNotesEdit, N: 1,
	})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeUpstreamRejected), "got %v", err)
	assert.NotEqual(t, types.KindTransientService, types.KindOf(err))
}

func TestTierReportRetries(t *testing.T) {
	tests := []struct {
		name     string
		clobber  bool
		attempts int32
	}{
		{"additive report is sent once", false, 1},
		{"clobber report is retried", true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestTierClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusBadGateway)
			})

			err := client.Report(context.Background(), types.UsageReport{
				Subject: "org:u1", Feature: types.FeatureNotesEdit, N: 1, Clobber: tt.clobber,
			})
			require.Error(t, err)
			assert.Equal(t, types.KindTransientService, types.KindOf(err))
			assert.Equal(t, tt.attempts, calls.Load())
		})
	}
}

func TestTierSubscribeAndCancel(t *testing.T) {
	var bodies []tierSubscribeRequest
	client := newTestTierClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscribe", r.URL.Path)
		var body tierSubscribeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		w.Write([]byte(`{}`))
	})

	require.NoError(t, client.Subscribe(context.Background(), "org:u1", "plan:free@1"))
	require.NoError(t, client.Cancel(context.Background(), "org:u1"))

	require.Len(t, bodies, 2)
	assert.Equal(t, []types.PlanName{"plan:free@1"}, bodies[0].Phases[0].Plans)
	require.Len(t, bodies[1].Phases, 1)
	assert.Empty(t, bodies[1].Phases[0].Plans)
}

func TestTierSubscribeRequiresPlan(t *testing.T) {
	client := newTestTierClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	err := client.Subscribe(context.Background(), "org:u1")
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}

func TestTierLookupPhase(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		client := newTestTierClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/phase", r.URL.Path)
			w.Write([]byte(`{"effective":"2026-01-02T03:04:05Z","plans":["plan:basic@1"],"features":["feature:notes:total@plan:basic@1"]}`))
		})

		phase, err := client.LookupPhase(context.Background(), "org:u1")
		require.NoError(t, err)
		assert.Equal(t, []types.PlanName{"plan:basic@1"}, phase.Plans)
		assert.Equal(t, 2026, phase.Effective.Year())
	})

	t.Run("org not found maps to not_found_subject", func(t *testing.T) {
		client := newTestTierClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":404,"code":"org_not_found","message":"org not found"}`))
		})

		_, err := client.LookupPhase(context.Background(), "org:nobody")
		require.Error(t, err)
		assert.Equal(t, types.KindNotFound, types.KindOf(err))

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeNotFoundSubject, appErr.Code)
		assert.Equal(t, "org_not_found", appErr.Details["remote_code"])
	})
}

func TestTierErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   types.ErrorCode
	}{
		{"unauthorized", http.StatusUnauthorized, `{"status":401,"code":"unauthorized","message":"bad key"}`, types.ErrCodeUpstreamRejected},
		{"forbidden", http.StatusForbidden, `{"status":403,"code":"forbidden","message":"no"}`, types.ErrCodeUpstreamRejected},
		{"bad request", http.StatusBadRequest, `{"status":400,"code":"invalid_request","message":"nope"}`, types.ErrCodeUpstreamRejected},
		{"unprocessable", http.StatusUnprocessableEntity, `{"status":422,"code":"invalid_request","message":"nope"}`, types.ErrCodeUpstreamRejected},
		{"non-json body", http.StatusBadRequest, `oops`, types.ErrCodeUpstreamRejected},
		{"feature not found", http.StatusBadRequest, `{"status":400,"code":"feature_not_found","message":"x"}`, types.ErrCodeNotFoundFeature},
		{"server error after retries", http.StatusInternalServerError, `{}`, types.ErrCodeUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestTierClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.PullLatest(context.Background())
			require.Error(t, err)
			assert.True(t, types.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestTierPullLatest(t *testing.T) {
	var calls atomic.Int32
	client := newTestTierClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/pull/latest", r.URL.Path)
		w.Write([]byte(`{"plans":{"plan:free@1":{"title":"Free","features":{
			"feature:notes:total":{"tiers":[{"upto":10}]}
		}}}}`))
	})

	model, err := client.PullLatest(context.Background())
	require.NoError(t, err)
	require.Contains(t, model.Plans, types.PlanName("plan:free@1"))
	assert.Equal(t, int64(10), model.Plans["plan:free@1"].Features[types.FeatureNotesTotal].Tiers[0].Upto)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTierBadJSONIsBadResponse(t *testing.T) {
	client := newTestTierClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	_, err := client.PullLatest(context.Background())
	assert.True(t, types.HasCode(err, types.ErrCodeUpstreamBadResponse))
	assert.Equal(t, types.KindTransientService, types.KindOf(err))
}
