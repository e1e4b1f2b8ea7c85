// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package fixer

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// Conflict is a station another station was found not to match.
type Conflict struct {
	Station    int     `json:"station"`
	Confidence float64 `json:"confidence"`
}

// Eviction records a station moved out of its group.
type Eviction struct {
	Station    int        `json:"station"`
	NodeID     int64      `json:"node_id"`
	Name       string     `json:"name"`
	FromGroup  int        `json:"from_group"`
	ToGroup    int        `json:"to_group"`
	Confidence float64    `json:"confidence"`
	Conflicts  []Conflict `json:"conflicts"`
}

// Merge records two groups joined in a regroup round. Minor is left
// empty.
type Merge struct {
	Round      int     `json:"round"`
	Master     int     `json:"master"`
	Minor      int     `json:"minor"`
	Confidence float64 `json:"confidence"`
}

// SuggestionKind is the edit proposed for a source node.
type SuggestionKind string

const (
	MoveBetweenRelations SuggestionKind = "move-between-relations"
	MoveOutOfRelation    SuggestionKind = "move-out-of-relation"
	MoveIntoRelation     SuggestionKind = "move-into-relation"
	NewRelation          SuggestionKind = "new-relation"
)

// Suggestion proposes moving a source node to another group.
type Suggestion struct {
	NodeID    int64          `json:"node_id"`
	Kind      SuggestionKind `json:"kind"`
	FromGroup int            `json:"from_group"`
	ToGroup   int            `json:"to_group"`
	FromRelID int64          `json:"from_rel_id,omitempty"`
	ToRelID   int64          `json:"to_rel_id,omitempty"`
}

// AttrError is a name attribute that does not fit its node or relation.
// Exactly one of NodeID and RelID is set.
type AttrError struct {
	NodeID      int64      `json:"node_id,omitempty"`
	RelID       int64      `json:"rel_id,omitempty"`
	Attr        string     `json:"attr"`
	Name        string     `json:"name"`
	Group       int        `json:"group"`
	Confidence  float64    `json:"confidence"`
	Conflicts   []Conflict `json:"conflicts"`
	TrackNumber bool       `json:"track_number,omitempty"`
}

// Result is the outcome of a Fixer run.
type Result struct {
	Evictions   []Eviction   `json:"evictions"`
	Merges      []Merge      `json:"merges"`
	Rounds      int          `json:"rounds"`
	Converged   bool         `json:"converged"`
	Suggestions []Suggestion `json:"suggestions"`
	AttrErrors  []AttrError  `json:"attr_errors"`
}

// WriteJSON writes the result as indented JSON.
func (r *Result) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(r); err != nil {
		return eris.Wrap(err, "fixer: writing result")
	}

	return nil
}
