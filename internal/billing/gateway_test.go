package billing

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notemeter/internal/types"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func usageClient(used, limit int64) *fakeClient {
	return &fakeClient{
		canUseFn: func(_ context.Context, _ types.Subject, feature types.FeatureName) (*types.Usage, error) {
			return &types.Usage{Feature: feature, Used: used, Limit: limit}, nil
		},
	}
}

func newTestGateway(client *fakeClient, sink UsageSink) *Gateway {
	return NewGateway(client, sink, WithClock(func() time.Time { return fixedNow }))
}

func TestCheck_AllowsUnderLimit(t *testing.T) {
	gw := newTestGateway(usageClient(3, 10), &recordingSink{})

	answer, err := gw.Check(context.Background(), "org:u1", types.FeatureNotesTotal)

	require.NoError(t, err)
	assert.True(t, answer.OK)
	assert.Equal(t, types.Subject("org:u1"), answer.Subject)
	assert.Equal(t, types.FeatureNotesTotal, answer.Feature)
	assert.Equal(t, int64(3), answer.Used)
	assert.Equal(t, int64(10), answer.Limit)
	assert.False(t, answer.Reported())
}

func TestCheck_DeniesAtLimit(t *testing.T) {
	gw := newTestGateway(usageClient(10, 10), &recordingSink{})

	answer, err := gw.Check(context.Background(), "org:u1", types.FeatureNotesTotal)

	require.NoError(t, err)
	assert.False(t, answer.OK)
}

func TestCheck_RemoteFailureIsTransientNotDenial(t *testing.T) {
	client := &fakeClient{
		canUseFn: func(context.Context, types.Subject, types.FeatureName) (*types.Usage, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	metrics := newCountingMetrics()
	gw := NewGateway(client, &recordingSink{}, WithGatewayMetrics(metrics))

	answer, err := gw.Require(context.Background(), "org:u1", types.FeatureNotesEdit)

	require.Error(t, err)
	assert.False(t, answer.OK)
	assert.Equal(t, types.KindTransientService, types.KindOf(err))
	assert.False(t, types.HasCode(err, types.ErrCodePlanLimit))
	assert.Equal(t, 1, metrics.count(metrics.checks, "error"))
}

func TestRequire_DeniedIsPlanLimit(t *testing.T) {
	gw := newTestGateway(usageClient(5, 5), &recordingSink{})

	_, err := gw.Require(context.Background(), "org:u1", types.FeatureNotesTotal)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodePlanLimit, appErr.Code)
	assert.Equal(t, http.StatusPaymentRequired, appErr.HTTPStatus())
	assert.Equal(t, string(types.FeatureNotesTotal), appErr.Details["feature"])
	assert.Equal(t, int64(5), appErr.Details["limit"])
}

func TestReport_AtMostOncePerAnswer(t *testing.T) {
	sink := &recordingSink{}
	gw := newTestGateway(usageClient(0, 10), sink)
	ctx := context.Background()

	answer, err := gw.Check(ctx, "org:u1", types.FeatureNotesEdit)
	require.NoError(t, err)
	copied := answer

	require.NoError(t, gw.Report(ctx, answer, 3))
	assert.ErrorIs(t, gw.Report(ctx, answer, 1), ErrAnswerAlreadyReported)
	assert.ErrorIs(t, gw.Report(ctx, copied, 1), ErrAnswerAlreadyReported)
	assert.True(t, copied.Reported())

	reports := sink.all()
	require.Len(t, reports, 1)
	assert.Equal(t, types.UsageReport{
		Subject: "org:u1",
		Feature: types.FeatureNotesEdit,
		N:       3,
		At:      fixedNow,
	}, reports[0])
}

func TestReport_AmountBelowOneCountsAsOne(t *testing.T) {
	sink := &recordingSink{}
	gw := newTestGateway(usageClient(0, 10), sink)

	answer, _ := gw.Check(context.Background(), "org:u1", types.FeatureNotesEdit)
	require.NoError(t, gw.Report(context.Background(), answer, 0))

	assert.Equal(t, int64(1), sink.all()[0].N)
}

func TestReport_RejectsDeniedAndForeignAnswers(t *testing.T) {
	sink := &recordingSink{}
	gw := newTestGateway(usageClient(10, 10), sink)

	denied, _ := gw.Check(context.Background(), "org:u1", types.FeatureNotesTotal)
	assert.ErrorIs(t, gw.Report(context.Background(), denied, 1), ErrAnswerDenied)

	forged := Answer{OK: true, Subject: "org:u1", Feature: types.FeatureNotesTotal}
	assert.ErrorIs(t, gw.Report(context.Background(), forged, 1), ErrAnswerNotIssued)

	assert.Empty(t, sink.all())
}

// createNote mimics a feature consumer: check, act, then report.
func createNote(ctx context.Context, gw *Gateway, subject types.Subject, act func() error) error {
	answer, err := gw.Require(ctx, subject, types.FeatureNotesTotal)
	if err != nil {
		return err
	}
	if err := act(); err != nil {
		return err
	}
	return gw.Report(ctx, answer, 1)
}

func TestDeniedCheckSkipsActionAndReport(t *testing.T) {
	sink := &recordingSink{}
	gw := newTestGateway(usageClient(10, 10), sink)
	acted := false

	err := createNote(context.Background(), gw, "org:u1", func() error {
		acted = true
		return nil
	})

	assert.Equal(t, types.KindPlanLimitExceeded, types.KindOf(err))
	assert.False(t, acted, "gated action must not run after a denial")
	assert.Empty(t, sink.all(), "no report after a denial")
}

func TestReportingFailureDoesNotFailAction(t *testing.T) {
	client := usageClient(0, 10)
	client.reportFn = func(context.Context, types.UsageReport) error {
		return errors.New("tier: 503")
	}
	metrics := newCountingMetrics()
	sink := NewDirectSink(client, WithSinkMetrics(metrics))
	gw := NewGateway(client, sink)
	acted := false

	err := createNote(context.Background(), gw, "org:u1", func() error {
		acted = true
		return nil
	})
	sink.Wait()

	assert.NoError(t, err)
	assert.True(t, acted)
	assert.Equal(t, int32(1), client.reportCalls.Load())
	assert.Equal(t, 1, metrics.count(metrics.reports, "failed"))
}

func TestReportCurrentCount_Clobbers(t *testing.T) {
	sink := &recordingSink{}
	gw := newTestGateway(&fakeClient{}, sink)

	gw.ReportCurrentCount(context.Background(), "org:u1", types.FeatureNotesTotal, 4)
	gw.ReportCurrentCount(context.Background(), "org:u1", types.FeatureNotesTotal, -1)

	reports := sink.all()
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Clobber)
	assert.Equal(t, int64(4), reports[0].N)
	assert.Equal(t, int64(0), reports[1].N)
}
