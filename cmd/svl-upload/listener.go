package main

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/rpc-svl/svl-upload/upload"
	"github.com/rpc-svl/svl-upload/upload/progress"
)

// logListener prints the progress of one file.
type logListener struct {
	name   string
	logger log.Logger
}

func (l logListener) StateChanged(from, to upload.State) {
	switch to {
	case upload.StatePaused:
		l.logger.Warnf("%s: paused, send SIGUSR1 again to resume", l.name)
	case upload.StateFinalizing:
		l.logger.Infof("%s: finalizing", l.name)
	default:
		l.logger.Debugf("%s: %s -> %s", l.name, from, to)
	}
}

func (l logListener) Progress(s progress.Snapshot) {
	l.logger.Printf("%s: %s", l.name, formatSnapshot(s))
}

func formatSnapshot(s progress.Snapshot) string {
	line := fmt.Sprintf("%5.1f%% (%s / %s)", s.Percent,
		units.BytesSize(float64(s.UploadedBytes)), units.BytesSize(float64(s.TotalBytes)))
	if s.SpeedBps > 0 {
		line += " " + s.Speed()
	}
	if eta := s.Remaining(); eta != "" {
		line += ", " + eta + " left"
	}
	if s.Retries > 0 {
		line += fmt.Sprintf(", %d retries", s.Retries)
	}
	return line
}
