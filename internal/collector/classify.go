package collector

import (
	"encoding/json"
	"fmt"
	"sort"
)

// OutcomeKind tags the shape of a provider response.
type OutcomeKind int

const (
	OutcomeUnrecognized OutcomeKind = iota
	OutcomeErrorMessage
	OutcomeRateLimit
	OutcomeInformation
	OutcomeTimeSeries
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeErrorMessage:
		return "error_message"
	case OutcomeRateLimit:
		return "rate_limit"
	case OutcomeInformation:
		return "information"
	case OutcomeTimeSeries:
		return "time_series"
	default:
		return "unrecognized"
	}
}

// Outcome is a classified provider response. Payload is set only for
// OutcomeTimeSeries; Message carries the provider text for notices.
type Outcome struct {
	Kind    OutcomeKind
	Message string
	Keys    []string
	Payload *RawPayload
}

// Err maps a non-success outcome to its sentinel error.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeTimeSeries:
		return nil
	case OutcomeErrorMessage:
		return fmt.Errorf("%w: %s", ErrAPIError, o.Message)
	case OutcomeRateLimit:
		return fmt.Errorf("%w: %s", ErrRateLimited, o.Message)
	case OutcomeInformation:
		return fmt.Errorf("%w: %s", ErrInformation, o.Message)
	default:
		return fmt.Errorf("%w: keys %v", ErrUnexpectedFormat, o.Keys)
	}
}

// Classify inspects the top-level keys of a provider response in fixed
// precedence: error message, rate-limit note, information, time series.
func Classify(body []byte) (Outcome, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return Outcome{}, fmt.Errorf("decode response: %w", err)
	}

	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if raw, ok := top[KeyErrorMessage]; ok {
		return Outcome{Kind: OutcomeErrorMessage, Message: messageText(raw), Keys: keys}, nil
	}
	if raw, ok := top[KeyNote]; ok {
		return Outcome{Kind: OutcomeRateLimit, Message: messageText(raw), Keys: keys}, nil
	}
	if raw, ok := top[KeyInformation]; ok {
		return Outcome{Kind: OutcomeInformation, Message: messageText(raw), Keys: keys}, nil
	}
	if raw, ok := top[KeyTimeSeries]; ok {
		payload := &RawPayload{}
		if err := json.Unmarshal(raw, &payload.TimeSeries); err != nil {
			return Outcome{Kind: OutcomeUnrecognized, Keys: keys}, nil
		}
		if meta, ok := top[KeyMetaData]; ok {
			// Meta data is informational only.
			_ = json.Unmarshal(meta, &payload.MetaData)
		}
		return Outcome{Kind: OutcomeTimeSeries, Keys: keys, Payload: payload}, nil
	}
	return Outcome{Kind: OutcomeUnrecognized, Keys: keys}, nil
}

func messageText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
