package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/remotehive-autoscraper/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	jobID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{JobID: jobID, TS: now, Stage: progress.StageJobStart, Board: "remoteok"},
		{JobID: jobID, TS: now, Stage: progress.StageJobStart, Board: "remoteok"},
		{
			JobID:       jobID,
			TS:          now.Add(time.Second),
			Stage:       progress.StagePageDone,
			Board:       "remoteok",
			Bytes:       2048,
			Postings:    12,
			StatusClass: progress.Status2xx,
			Dur:         300 * time.Millisecond,
		},
		{JobID: jobID, TS: now.Add(5 * time.Second), Stage: progress.StageJobDone, Dur: 5 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("success")))
	require.Zero(t, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesTotal.WithLabelValues("remoteok", "2xx")))
	require.Equal(t, 2048.0, testutil.ToFloat64(sink.pageBytes.WithLabelValues("remoteok")))
	require.Equal(t, 12.0, testutil.ToFloat64(sink.pagePostings.WithLabelValues("remoteok")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "autoscraper_page_fetch_seconds"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")
}
