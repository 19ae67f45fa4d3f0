package models

import (
	"time"
)

// SubmissionKind identifies the type of creative submission being scored
type SubmissionKind string

const (
	SubmissionArt         SubmissionKind = "art"
	SubmissionExternalArt SubmissionKind = "external_art"
	SubmissionWriting     SubmissionKind = "writing"
	SubmissionReference   SubmissionKind = "reference"
	SubmissionPrompt      SubmissionKind = "prompt"
)

// IsValid reports whether the kind is one of the known submission kinds
func (k SubmissionKind) IsValid() bool {
	switch k {
	case SubmissionArt, SubmissionExternalArt, SubmissionWriting, SubmissionReference, SubmissionPrompt:
		return true
	}
	return false
}

// ArtQuality is the finish tier of an art submission
type ArtQuality string

const (
	QualityRough      ArtQuality = "rough"
	QualityClean      ArtQuality = "clean"
	QualityPolished   ArtQuality = "polished"
	QualityFullRender ArtQuality = "full_render"
)

// BackgroundType describes one background entry on an art submission
type BackgroundType string

const (
	BackgroundNone    BackgroundType = "none"
	BackgroundSimple  BackgroundType = "simple"
	BackgroundComplex BackgroundType = "complex"
)

// Background is a single background entry. The list always contains at least
// one entry; a "none" entry is mutually exclusive with everything else.
type Background struct {
	Type BackgroundType `json:"type"`
}

// Appearance is the portion of a character shown in an art submission
type Appearance string

const (
	AppearanceChibi    Appearance = "chibi"
	AppearanceHeadshot Appearance = "headshot"
	AppearanceHalfBody Appearance = "half_body"
	AppearanceFullBody Appearance = "full_body"
)

// Complexity is the design complexity tier of a depicted character
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityDetailed Complexity = "detailed"
)

// Character is one depicted character on an art submission
type Character struct {
	Appearance Appearance `json:"appearance"`
	Complexity Complexity `json:"complexity"`
}

// SubmissionAttributes is the scoring input for one submission. It is a
// tagged union over Kind: only the fields for that kind are consulted.
// Values are immutable once constructed; the form layer builds a fresh value
// for every edit (see AddBackground/RemoveBackground).
type SubmissionAttributes struct {
	Kind SubmissionKind `json:"kind"`

	// Art / external art
	Quality     ArtQuality   `json:"quality,omitempty"`
	Backgrounds []Background `json:"backgrounds,omitempty"`
	Characters  []Character  `json:"characters,omitempty"`

	// Writing
	WordCount    int `json:"word_count,omitempty"`
	Participants int `json:"participants,omitempty"`

	// Reference
	CustomLevels *int `json:"custom_levels,omitempty"`

	// Entities that gain the submission's levels, in declaration order
	Recipients []RecipientRef `json:"recipients,omitempty"`
}

// AddBackground returns a new background list with b appended.
// Adding a non-none background removes any "none" placeholder; adding "none"
// collapses the list to a single "none" entry.
func AddBackground(list []Background, b Background) []Background {
	if b.Type == BackgroundNone {
		return []Background{{Type: BackgroundNone}}
	}

	out := make([]Background, 0, len(list)+1)
	for _, existing := range list {
		if existing.Type == BackgroundNone {
			continue
		}
		out = append(out, existing)
	}
	return append(out, b)
}

// RemoveBackground returns a new background list with the entry at index i
// removed. Removing the last non-none entry restores the "none" placeholder.
func RemoveBackground(list []Background, i int) []Background {
	if i < 0 || i >= len(list) {
		out := make([]Background, len(list))
		copy(out, list)
		return out
	}

	out := make([]Background, 0, len(list)-1)
	out = append(out, list[:i]...)
	out = append(out, list[i+1:]...)

	if len(out) == 0 {
		return []Background{{Type: BackgroundNone}}
	}
	return out
}

// Submission is the durable record of a finalized submission. Bundles are
// recomputed freely during preview; exactly one Submission row is written
// when the user accepts the rewards.
type Submission struct {
	ID          string               `json:"id"`
	AccountID   string               `json:"account_id"`
	Kind        SubmissionKind       `json:"kind"`
	Attributes  SubmissionAttributes `json:"attributes"`
	Bundle      *RewardBundle        `json:"bundle,omitempty"`
	FinalizedAt time.Time            `json:"finalized_at"`
}
