package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/epibuilder/portal/internal/model"
)

func TestNoticeTrackerAnnouncesFinishedRun(t *testing.T) {
	n := newNoticeTracker(5 * time.Second)
	t0 := time.Now()

	running := []model.Task{{ID: 1, RunName: "covid", Status: model.StatusRunning}}
	assert.Empty(t, n.observe(running, t0), "no transition yet")

	finished := []model.Task{{ID: 1, RunName: "covid", Status: model.StatusFinished}}
	msg := n.observe(finished, t0.Add(time.Second))
	assert.Equal(t, `Run "covid" finished.`, msg)

	// The notice stays up on redraws within the ttl window.
	assert.Equal(t, msg, n.observe(finished, t0.Add(3*time.Second)))
	// And ages out after it.
	assert.Empty(t, n.observe(finished, t0.Add(7*time.Second)))
}

func TestNoticeTrackerIgnoresFirstSighting(t *testing.T) {
	n := newNoticeTracker(5 * time.Second)

	// A run that is already terminal when first observed is old news.
	done := []model.Task{{ID: 2, RunName: "flu", Status: model.StatusFailed}}
	assert.Empty(t, n.observe(done, time.Now()))
}
