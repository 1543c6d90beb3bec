package main

import (
	"context"
	"os"
	"sync"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/rpc-svl/svl-upload/upload"
)

// controller routes signals to the upload in progress.
type controller struct {
	logger log.Logger
	cancel context.CancelFunc
	exit   func(code int)

	mu          sync.Mutex
	current     *upload.Upload
	interrupted bool
}

func newController(cancel context.CancelFunc, logger log.Logger) *controller {
	return &controller{logger: logger, cancel: cancel, exit: os.Exit}
}

func (c *controller) track(u *upload.Upload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = u
}

func (c *controller) handle(sig os.Signal) {
	if sig == syscall.SIGUSR1 {
		c.togglePause()
		return
	}
	c.interrupt()
}

// interrupt cancels the running upload and skips the remaining files. A second interrupt exits.
func (c *controller) interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interrupted {
		c.logger.Warnf("Interrupted again, exiting")
		c.exit(130)
		return
	}
	c.interrupted = true

	c.logger.Warnf("Cancelling, interrupt again to exit immediately")
	if c.current != nil {
		c.current.Cancel()
	}
	c.cancel()
}

func (c *controller) togglePause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return
	}

	var err error
	if c.current.State() == upload.StatePaused {
		err = c.current.Resume()
	} else {
		err = c.current.Pause()
	}
	if err != nil {
		c.logger.Warnf("%s", err)
	}
}
