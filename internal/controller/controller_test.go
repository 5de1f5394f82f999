package controller

import (
	"context"
	"testing"
	"time"

	"github.com/ramkansal/seosum/internal/model"
	"github.com/stretchr/testify/require"
)

func TestSelectRetryTargetsSingleEntry(t *testing.T) {
	c := New(Config{RootHost: "example.test"}, model.NewAppState())
	urls := c.selectRetryTargets(model.RetryUrls(model.RetrySingleEntry, []string{"https://example.test/a"}))
	require.Equal(t, []string{"https://example.test/a"}, urls)
}

func TestSelectRetryTargetsFailedOnly(t *testing.T) {
	state := model.NewAppState()
	state.PushRow(model.PageRecord{
		URL:             "https://example.test/a",
		Status:          503,
		RetrievalStatus: model.Retrieved,
		CrawlTimestamp:  time.Now(),
	}, nil)
	state.PushRow(model.PageRecord{
		URL:             "https://example.test/b",
		Status:          200,
		RetrievalStatus: model.Retrieved,
		CrawlTimestamp:  time.Now(),
	}, nil)

	c := New(Config{RootHost: "example.test"}, state)
	urls := c.selectRetryTargets(model.RetryUrls(model.RetryFailedOnly, nil))
	require.Equal(t, []string{"https://example.test/a"}, urls)
}

// TestRetryLoopAppliesConcurrencyChangesImmediately implements spec §8
// scenario 6: a SetFetchConcurrency control command applied mid-run is
// visible to subsequent spawns without waiting for the current batch.
func TestRetryLoopAppliesConcurrencyChangesImmediately(t *testing.T) {
	c := New(Config{RootHost: "example.test", InitialConcurrency: 4}, model.NewAppState())
	require.Equal(t, 4, c.concurrency.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	control := make(chan model.CrawlControl, 4)
	out := make(chan model.CrawlEvent, 16)

	control <- model.SetFetchConcurrency(64)
	control <- model.Shutdown()

	err := c.retryLoop(ctx, out, control)
	require.NoError(t, err)
	require.Equal(t, 64, c.concurrency.Load())
	require.True(t, c.isShutdown())
}

func TestRetryLoopNeverExceedsMaxConcurrency(t *testing.T) {
	c := New(Config{RootHost: "example.test", InitialConcurrency: 4}, model.NewAppState())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	control := make(chan model.CrawlControl, 4)
	out := make(chan model.CrawlEvent, 16)

	control <- model.SetFetchConcurrency(100000)
	control <- model.Shutdown()

	err := c.retryLoop(ctx, out, control)
	require.NoError(t, err)
	require.LessOrEqual(t, c.concurrency.Load(), 256)
}
