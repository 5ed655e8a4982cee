// Package refinput provides a minimal reference input plugin: it logs
// replies and errors through *zerolog.Logger and exposes a Trigger
// method cmd/feedbackd (or a test) can call to synthesize a request,
// standing in for a real D-Bus/socket front-end, which the spec
// declares out of scope.
package refinput

import (
	"github.com/rs/zerolog"

	"github.com/bgpfix/feedbackd/input"
	"github.com/bgpfix/feedbackd/proplist"
	"github.com/bgpfix/feedbackd/request"
)

// Input is a reference input.Decl wrapper exposing Trigger.
type Input struct {
	*input.Decl
	play func(*request.Request)
}

// New returns a reference input named name. play is called with every
// minted request and is expected to hand it to a dispatcher's
// PlayRequest (kept out of this package to avoid a dependency on
// dispatcher for a reference front-end that only needs the request
// constructor and the reply callbacks).
func New(logger *zerolog.Logger, name string, play func(*request.Request)) *Input {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}

	in := &Input{play: play}
	in.Decl = &input.Decl{
		Name: name,
		SendReplyFunc: func(req *request.Request, code int) {
			logger.Info().Str("input", name).Str("request", req.ID).Int("code", code).Msg("refinput: reply")
		},
		SendErrorFunc: func(req *request.Request, reason string) {
			logger.Warn().Str("input", name).Str("request", req.ID).Str("reason", reason).Msg("refinput: error")
		},
	}
	return in
}

// Trigger mints a new request for eventName with props and hands it
// to the play callback supplied to New.
func (in *Input) Trigger(eventName string, props *proplist.PropList) *request.Request {
	req := in.NewRequest(eventName, props)
	in.play(req)
	return req
}

// TriggerJSON decodes a single flat JSON object of client-submitted
// properties (eg. received over a socket front-end) via
// proplist.FromJSON and triggers eventName with them.
func (in *Input) TriggerJSON(eventName string, propsJSON []byte) (*request.Request, error) {
	props, err := proplist.FromJSON(propsJSON)
	if err != nil {
		return nil, err
	}
	return in.Trigger(eventName, props), nil
}

// TriggerBatchJSON decodes a JSON array of client property objects via
// proplist.ManyFromJSON and triggers eventName once per element, eg.
// for a client submitting several feedback requests in one call.
func (in *Input) TriggerBatchJSON(eventName string, batchJSON []byte) ([]*request.Request, error) {
	propsList, err := proplist.ManyFromJSON(batchJSON)
	if err != nil {
		return nil, err
	}
	reqs := make([]*request.Request, len(propsList))
	for i, props := range propsList {
		reqs[i] = in.Trigger(eventName, props)
	}
	return reqs, nil
}
