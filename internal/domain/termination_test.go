package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blackmichael/bsky-collect/internal/domain"
)

func TestTermination_MaxItemsInclusive(t *testing.T) {
	ctrl := domain.NewTerminationController(domain.ModePull, domain.TerminationSpec{MaxItems: 3}, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, ctrl.ShouldContinue())
		ctrl.RecordAccepted()
	}
	assert.False(t, ctrl.ShouldContinue())
	assert.Equal(t, domain.StopMaxItems, ctrl.Reason())
	assert.Equal(t, 3, ctrl.Collected())
}

func TestTermination_RejectedRowsDoNotCount(t *testing.T) {
	ctrl := domain.NewTerminationController(domain.ModePush, domain.TerminationSpec{MaxItems: 3}, nil)

	// Inspecting rows that are rejected never touches the counter.
	for i := 0; i < 10; i++ {
		assert.True(t, ctrl.ShouldContinue())
	}
	ctrl.RecordAccepted()

	left, capped := ctrl.Remaining()
	assert.True(t, capped)
	assert.Equal(t, 2, left)
}

func TestTermination_NoCap(t *testing.T) {
	ctrl := domain.NewTerminationController(domain.ModePull, domain.TerminationSpec{}, nil)
	for i := 0; i < 1000; i++ {
		ctrl.RecordAccepted()
	}
	assert.True(t, ctrl.ShouldContinue())
	_, capped := ctrl.Remaining()
	assert.False(t, capped)
}

func TestTermination_PushCutoff(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctrl := domain.NewTerminationController(domain.ModePush, domain.TerminationSpec{Cutoff: now.Add(time.Minute)}, clock)

	assert.True(t, ctrl.ShouldContinue())
	deadline, ok := ctrl.Deadline()
	assert.True(t, ok)
	assert.Equal(t, now.Add(time.Minute), deadline)

	now = now.Add(time.Minute)
	assert.False(t, ctrl.ShouldContinue())
	assert.Equal(t, domain.StopCutoff, ctrl.Reason())
}

func TestTermination_CutoffIgnoredInPullMode(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	ctrl := domain.NewTerminationController(domain.ModePull, domain.TerminationSpec{Cutoff: past}, nil)
	assert.True(t, ctrl.ShouldContinue())
	_, ok := ctrl.Deadline()
	assert.False(t, ok)
}

func TestTermination_InRange(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	ctrl := domain.NewTerminationController(domain.ModePull, domain.TerminationSpec{Since: since, Until: until}, nil)

	assert.True(t, ctrl.InRange(since))
	assert.True(t, ctrl.InRange(until))
	assert.True(t, ctrl.InRange(since.Add(24*time.Hour)))
	assert.False(t, ctrl.InRange(since.Add(-time.Second)))
	assert.False(t, ctrl.InRange(until.Add(time.Second)))
	assert.False(t, ctrl.InRange(time.Time{}))

	assert.True(t, ctrl.OlderThanSince(since.Add(-time.Second)))
	assert.False(t, ctrl.OlderThanSince(until.Add(time.Second)))

	open := domain.NewTerminationController(domain.ModePull, domain.TerminationSpec{}, nil)
	assert.True(t, open.InRange(time.Time{}))
}

func TestTermination_ObservePage(t *testing.T) {
	t.Run("exhausted", func(t *testing.T) {
		ctrl := domain.NewTerminationController(domain.ModePull, domain.TerminationSpec{}, nil)
		ctrl.ObservePage(domain.PageStats{Total: 5, InRange: 5, HasMore: false})
		assert.False(t, ctrl.ShouldContinue())
		assert.Equal(t, domain.StopExhausted, ctrl.Reason())
	})

	t.Run("boundary", func(t *testing.T) {
		ctrl := domain.NewTerminationController(domain.ModePull, domain.TerminationSpec{}, nil)
		ctrl.ObservePage(domain.PageStats{Total: 4, Older: 4, HasMore: true})
		assert.Equal(t, domain.StopBoundary, ctrl.Reason())
	})

	t.Run("partially older keeps going", func(t *testing.T) {
		ctrl := domain.NewTerminationController(domain.ModePull, domain.TerminationSpec{}, nil)
		ctrl.ObservePage(domain.PageStats{Total: 4, InRange: 1, Older: 3, HasMore: true})
		assert.True(t, ctrl.ShouldContinue())
	})

	t.Run("first reason wins", func(t *testing.T) {
		ctrl := domain.NewTerminationController(domain.ModePull, domain.TerminationSpec{}, nil)
		ctrl.Stop(domain.StopInterrupted)
		ctrl.ObservePage(domain.PageStats{HasMore: false})
		assert.Equal(t, domain.StopInterrupted, ctrl.Reason())
	})
}
