package bulk

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// ItemResult is the backend's verdict on one pair of a batch.
// Error is the backend's error payload, kept verbatim; it is empty for documents that were accepted.
type ItemResult struct {
	Op     string          `json:"op,omitempty"`
	Index  string          `json:"index,omitempty"`
	Id     string          `json:"id,omitempty"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Failed reports whether the backend rejected the document.
func (r ItemResult) Failed() bool {
	return len(r.Error) > 0 && !bytes.Equal(r.Error, []byte("null"))
}

// Outcome is the backend's response to a batch. Items are aligned with the batch by position and
// Errors is set whenever at least one item failed.
type Outcome struct {
	Took   int64        `json:"took"`
	Errors bool         `json:"errors"`
	Items  []ItemResult `json:"items"`
}

// FailedPositions returns the positions of the rejected items in ascending order.
func (o *Outcome) FailedPositions() []int {
	var positions []int
	for i, item := range o.Items {
		if item.Failed() {
			positions = append(positions, i)
		}
	}
	return positions
}

type responseItem struct {
	Index  string          `json:"_index"`
	Id     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

type response struct {
	Took   int64                     `json:"took"`
	Errors bool                      `json:"errors"`
	Items  []map[string]responseItem `json:"items"`
}

// DecodeOutcome parses a bulk API response body. Each item of the response is an object keyed by
// the operation name, e.g. {"index":{"_index":"docs","status":201}}.
func DecodeOutcome(body []byte) (*Outcome, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, errors.Wrap(err, "decoding bulk response")
	}
	outcome := &Outcome{
		Took:   r.Took,
		Errors: r.Errors,
		Items:  make([]ItemResult, 0, len(r.Items)),
	}
	for i, item := range r.Items {
		if len(item) != 1 {
			return nil, errors.Errorf("decoding bulk response: item %d has %d operations, expected 1", i, len(item))
		}
		for op, result := range item {
			outcome.Items = append(outcome.Items, ItemResult{
				Op:     op,
				Index:  result.Index,
				Id:     result.Id,
				Status: result.Status,
				Error:  result.Error,
			})
		}
	}
	return outcome, nil
}
