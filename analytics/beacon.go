package analytics

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
)

const (
	beaconTimeout = 5 * time.Second
	beaconRetries = 1
)

// NewBeaconFactory returns a TrackerFactory whose trackers post every event to url.
// Events are sent without credentials; failures are only logged at debug level.
func NewBeaconFactory(url string, logger log.Logger) TrackerFactory {
	return func(properties ...analytics.Properties) analytics.Tracker {
		retryClient := retryhttp.NewClient(logger)
		retryClient.RetryMax = beaconRetries

		httpClient := retryClient.StandardClient()
		httpClient.Timeout = beaconTimeout

		client := analytics.NewClient(httpClient, url, logger, 2*beaconTimeout)
		return analytics.NewTracker(client, 2*beaconTimeout, properties...)
	}
}
