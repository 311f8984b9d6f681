package models

import (
	"errors"
	"fmt"
	"sort"
)

type Channel string

const (
	ChannelSMS         Channel = "sms"
	ChannelEmail       Channel = "email"
	ChannelIncidentLog Channel = "incidentLog"
)

type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeTransportError Outcome = "transport-error"
)

// DispatchResult is the per-channel outcome of one fan-out.
type DispatchResult struct {
	Outcomes map[Channel]Outcome `json:"outcomes"`
	Errors   map[Channel]string  `json:"errors,omitempty"`
	Queued   bool                `json:"queued"`
}

func (r DispatchResult) AnySuccess() bool {
	for _, o := range r.Outcomes {
		if o == OutcomeSuccess {
			return true
		}
	}
	return false
}

// AllFailed is false for an empty result.
func (r DispatchResult) AllFailed() bool {
	if len(r.Outcomes) == 0 {
		return false
	}
	return !r.AnySuccess()
}

// Cause summarizes the failed channels as one transport error, or nil when
// nothing failed.
func (r DispatchResult) Cause() error {
	if len(r.Errors) == 0 {
		return nil
	}
	channels := make([]string, 0, len(r.Errors))
	for ch := range r.Errors {
		channels = append(channels, string(ch))
	}
	sort.Strings(channels)

	errs := make([]error, 0, len(channels))
	for _, ch := range channels {
		errs = append(errs, fmt.Errorf("%s: %s", ch, r.Errors[Channel(ch)]))
	}
	return NewTransportError("dispatch", errors.Join(errs...))
}
