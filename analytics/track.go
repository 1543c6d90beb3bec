// Package analytics sends anonymous upload lifecycle events to an optional beacon endpoint.
package analytics

import (
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/google/uuid"
)

// TrackerFactory creates a tracker that attaches properties to every event.
type TrackerFactory func(...analytics.Properties) analytics.Tracker

const (
	EventsURLEnvKey = "SVL_EVENTS_URL"
	RunID           = "run_id"
	Client          = "client"
)

const clientName = "svl-upload"

// NewUploadTracker creates a tracker tagging every event with an ID of this run.
// Without an events URL nothing is sent.
func NewUploadTracker(repository env.Repository, trackerFactory TrackerFactory) analytics.Tracker {
	if repository.Get(EventsURLEnvKey) == "" {
		return nopTracker{}
	}
	return trackerFactory(analytics.Properties{
		RunID:  uuid.NewString(),
		Client: clientName,
	})
}

type nopTracker struct{}

func (nopTracker) Enqueue(string, ...analytics.Properties) {}

func (nopTracker) Wait() {}
