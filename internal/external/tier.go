package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"notemeter/internal/types"
)

// tierAPIBase is the default Tier pricing API base URL.
const tierAPIBase = "https://api.tier.run"

// Remote error codes with a domain meaning.
const (
	tierCodeOrgNotFound     = "org_not_found"
	tierCodeFeatureNotFound = "feature_not_found"
)

// TierClientConfig holds the configuration for creating a TierHTTPClient.
type TierClientConfig struct {
	APIKey  string
	BaseURL string // defaults to tierAPIBase
	Logger  *slog.Logger
}

type tierLimitsResponse struct {
	Org   string      `json:"org"`
	Usage []tierUsage `json:"usage"`
}

type tierUsage struct {
	Feature types.FeatureName `json:"feature"`
	Used    int64             `json:"used"`
	Limit   int64             `json:"limit"`
}

type tierReportRequest struct {
	Org     types.Subject     `json:"org"`
	Feature types.FeatureName `json:"feature"`
	N       int64             `json:"n"`
	At      time.Time         `json:"at"`
	Clobber bool              `json:"clobber"`
}

type tierSubscribeRequest struct {
	Org    types.Subject `json:"org"`
	Phases []tierPhase   `json:"phases"`
}

type tierPhase struct {
	Plans []types.PlanName `json:"plans"`
}

// tierErrorResponse is the error envelope returned on non-2xx responses.
type tierErrorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TierHTTPClient implements EntitlementClient against the Tier REST API
// through BaseClient.
type TierHTTPClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewTierClient creates a TierHTTPClient. The httpClient timeout bounds a
// single attempt; retries are governed by DefaultRetryPolicy.
func NewTierClient(httpClient *http.Client, cfg TierClientConfig, opts ...BaseClientOption) *TierHTTPClient {
	base := NewBaseClient(httpClient, "tier", DefaultRetryPolicy(), "notemeter/1.0", opts...)
	return NewTierClientWithBase(base, cfg)
}

// NewTierClientWithBase creates a TierHTTPClient around a pre-configured
// BaseClient.
func NewTierClientWithBase(base *BaseClient, cfg TierClientConfig) *TierHTTPClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = tierAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TierHTTPClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// CanUse fetches all limits for the subject and picks out feature.
func (c *TierHTTPClient) CanUse(ctx context.Context, subject types.Subject, feature types.FeatureName) (*types.Usage, error) {
	var limits tierLimitsResponse
	q := url.Values{"org": {string(subject)}}
	if err := c.do(ctx, "CanUse", http.MethodGet, "/v1/limits?"+q.Encode(), nil, &limits); err != nil {
		return nil, err
	}

	for _, u := range limits.Usage {
		if u.Feature == feature {
			return &types.Usage{Feature: feature, Used: u.Used, Limit: u.Limit}, nil
		}
	}

	c.logger.DebugContext(ctx, "feature not in subject limits",
		"subject", string(subject),
		"feature", string(feature),
	)
	return &types.Usage{Feature: feature}, nil
}

// Report posts a usage record. Additive reports get a single attempt: a
// replay after a lost response would count the usage twice.
func (c *TierHTTPClient) Report(ctx context.Context, report types.UsageReport) error {
	at := report.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	body := tierReportRequest{
		Org:     report.Subject,
		Feature: report.Feature,
		N:       report.N,
		At:      at,
		Clobber: report.Clobber,
	}
	roundTrip := c.base.Do
	if !report.Clobber {
		roundTrip = c.base.DoOnce
	}
	return c.send(ctx, roundTrip, "Report", http.MethodPost, "/v1/report", body, nil)
}

// Subscribe replaces the subject's schedule with a single phase holding plans.
func (c *TierHTTPClient) Subscribe(ctx context.Context, subject types.Subject, plans ...types.PlanName) error {
	if len(plans) == 0 {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"at least one plan is required to subscribe",
			nil,
		)
	}

	c.logger.InfoContext(ctx, "subscribing subject",
		"subject", string(subject),
		"plans", plans,
	)

	body := tierSubscribeRequest{
		Org:    subject,
		Phases: []tierPhase{{Plans: plans}},
	}
	return c.do(ctx, "Subscribe", http.MethodPost, "/v1/subscribe", body, nil)
}

// Cancel schedules an empty phase, which ends all plans immediately.
func (c *TierHTTPClient) Cancel(ctx context.Context, subject types.Subject) error {
	c.logger.InfoContext(ctx, "cancelling subject", "subject", string(subject))

	body := tierSubscribeRequest{
		Org:    subject,
		Phases: []tierPhase{{Plans: []types.PlanName{}}},
	}
	return c.do(ctx, "Cancel", http.MethodPost, "/v1/subscribe", body, nil)
}

// LookupPhase returns the subject's active phase.
func (c *TierHTTPClient) LookupPhase(ctx context.Context, subject types.Subject) (*types.Phase, error) {
	var phase types.Phase
	q := url.Values{"org": {string(subject)}}
	if err := c.do(ctx, "LookupPhase", http.MethodGet, "/v1/phase?"+q.Encode(), nil, &phase); err != nil {
		return nil, err
	}
	return &phase, nil
}

// PullLatest returns the most recently pushed pricing model.
func (c *TierHTTPClient) PullLatest(ctx context.Context) (*types.Model, error) {
	var model types.Model
	if err := c.do(ctx, "PullLatest", http.MethodGet, "/v1/pull/latest", nil, &model); err != nil {
		return nil, err
	}
	if model.Plans == nil {
		model.Plans = map[types.PlanName]types.Plan{}
	}
	return &model, nil
}

// do performs one logical API call. in is JSON-encoded when non-nil; out is
// decoded from a 2xx body when non-nil.
func (c *TierHTTPClient) do(ctx context.Context, operation, method, path string, in, out any) error {
	return c.send(ctx, c.base.Do, operation, method, path, in, out)
}

func (c *TierHTTPClient) send(
	ctx context.Context,
	roundTrip func(*http.Request) (*http.Response, error),
	operation, method, path string,
	in, out any,
) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return types.NewAppError(
				types.ErrCodeInternalUnexpected,
				fmt.Sprintf("failed to encode tier %s request", operation),
				err,
			)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to create tier %s request", operation),
			err,
		)
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := roundTrip(req)
	if err != nil {
		return c.wrapError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.handleErrorResponse(ctx, resp, operation)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamBadResponse,
			fmt.Sprintf("failed to decode tier %s response", operation),
			err,
		)
	}
	return nil
}

// handleErrorResponse decodes the remote error envelope and maps it to an
// AppError. The remote code is kept in Details["remote_code"].
func (c *TierHTTPClient) handleErrorResponse(ctx context.Context, resp *http.Response, operation string) *types.AppError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var remote tierErrorResponse
	if err := json.Unmarshal(raw, &remote); err != nil || remote.Code == "" {
		remote.Code = ""
		remote.Message = strings.TrimSpace(string(raw))
	}

	c.logger.WarnContext(ctx, "tier API error",
		"operation", operation,
		"status_code", resp.StatusCode,
		"remote_code", remote.Code,
		"remote_message", remote.Message,
	)

	cause := fmt.Errorf("tier %s returned %d: %s", operation, resp.StatusCode, remote.Message)
	details := map[string]any{
		"remote_code": remote.Code,
		"status_code": resp.StatusCode,
	}

	var code types.ErrorCode
	var message string
	switch {
	case remote.Code == tierCodeOrgNotFound:
		code, message = types.ErrCodeNotFoundSubject, "billing subject not found"
	case remote.Code == tierCodeFeatureNotFound:
		code, message = types.ErrCodeNotFoundFeature, "feature not found"
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		code, message = types.ErrCodeUpstreamRejected, fmt.Sprintf("tier rejected credentials (%d)", resp.StatusCode)
	case resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		code, message = types.ErrCodeUpstreamRejected, fmt.Sprintf("tier rejected %s (%d)", operation, resp.StatusCode)
	default:
		code, message = types.ErrCodeUpstreamBilling, fmt.Sprintf("tier %s failed (%d)", operation, resp.StatusCode)
	}

	return types.NewAppErrorWithDetails(code, message, cause, details)
}

// wrapError prefixes transport errors from BaseClient with the operation
// while keeping their code.
func (c *TierHTTPClient) wrapError(operation string, err error) error {
	var appErr *types.AppError
	if ok := asAppError(err, &appErr); ok {
		return types.NewAppErrorWithDetails(
			appErr.Code,
			fmt.Sprintf("tier %s: %s", operation, appErr.Message),
			appErr.Err,
			appErr.Details,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamUnavailable,
		fmt.Sprintf("tier %s failed", operation),
		err,
	)
}

var _ EntitlementClient = (*TierHTTPClient)(nil)
