// Package refsink provides in-process reference sink implementations
// used by cmd/feedbackd's default wiring and its own tests. They
// stand in for the concrete audio/haptic/LED back-ends the spec
// declares out of scope: each just logs through *zerolog.Logger
// (grounded on the teacher's pervasive embedded-Logger fields, e.g.
// pipe.Pipe's *zerolog.Logger) and completes itself after a fixed
// duration via time.AfterFunc.
package refsink

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/bgpfix/feedbackd/request"
	"github.com/bgpfix/feedbackd/sink"
)

// New returns a timed reference sink named name at the given
// priority. Prepare synchronizes immediately (no real device
// handshake to wait for); Play starts a timer that completes the
// request after hold; Stop cancels any pending timer.
func New(logger *zerolog.Logger, name string, priority int, hold time.Duration) *sink.Decl {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}

	var timer *time.Timer

	d := &sink.Decl{Name: name, Priority: priority}

	d.Prepare = func(req *request.Request) bool {
		logger.Debug().Str("sink", name).Str("request", req.ID).Msg("refsink: prepared")
		d.Core().SynchronizeSink(d, req)
		return true
	}

	d.Play = func(req *request.Request) bool {
		logger.Info().Str("sink", name).Str("request", req.ID).Dur("hold", hold).Msg("refsink: playing")
		core := d.Core()
		timer = time.AfterFunc(hold, func() {
			core.CompleteSink(d, req)
		})
		return true
	}

	d.Stop = func(req *request.Request) {
		if timer != nil {
			timer.Stop()
		}
		logger.Debug().Str("sink", name).Str("request", req.ID).Msg("refsink: stopped")
	}

	return d
}
