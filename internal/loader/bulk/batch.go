// Package bulk defines the batches submitted to a document indexing backend, the per-document
// outcomes it returns, and the narrow Backend interface the submission engine depends on.
package bulk

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// OpIndex is the only bulk operation the loader issues.
const OpIndex = "index"

// Backend accepts bulk submissions. Implementations must return one ItemResult per submitted pair,
// in submission order.
type Backend interface {
	SubmitBatch(ctx context.Context, batch *Batch) (*Outcome, error)
}

// Action describes what to do with the document that follows it.
type Action struct {
	Op    string
	Index string
}

type actionMetadata struct {
	Index string `json:"_index"`
}

// MarshalJSON renders the action as a bulk action line, e.g. {"index":{"_index":"docs"}}.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]actionMetadata{a.Op: {Index: a.Index}})
}

// Pair is one entry of a batch: the action, the document, and the corpus line the document came from.
type Pair struct {
	Line     int
	Action   Action
	Document json.RawMessage
}

// Batch is an ordered list of pairs. Outcomes are matched to pairs by position.
type Batch struct {
	Pairs []Pair
}

func NewBatch(capacity int) *Batch {
	return &Batch{Pairs: make([]Pair, 0, capacity)}
}

// AddIndex appends an index action for the document read from the given corpus line.
func (b *Batch) AddIndex(line int, index string, document json.RawMessage) {
	b.Pairs = append(b.Pairs, Pair{
		Line:     line,
		Action:   Action{Op: OpIndex, Index: index},
		Document: document,
	})
}

func (b *Batch) Len() int {
	return len(b.Pairs)
}

// Lines returns the corpus lines of the batch in order.
func (b *Batch) Lines() []int {
	lines := make([]int, len(b.Pairs))
	for i, pair := range b.Pairs {
		lines[i] = pair.Line
	}
	return lines
}

// Subset returns a new batch holding the pairs at the given positions, in the order given.
func (b *Batch) Subset(positions []int) *Batch {
	subset := NewBatch(len(positions))
	for _, position := range positions {
		subset.Pairs = append(subset.Pairs, b.Pairs[position])
	}
	return subset
}

// Encode renders the batch as a newline delimited bulk request body: one action line followed
// by one document line per pair.
func (b *Batch) Encode() ([]byte, error) {
	var buf bytes.Buffer
	for _, pair := range b.Pairs {
		action, err := json.Marshal(pair.Action)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding action for line %d", pair.Line)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		if err := json.Compact(&buf, pair.Document); err != nil {
			return nil, errors.Wrapf(err, "encoding document for line %d", pair.Line)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
