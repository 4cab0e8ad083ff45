package collab

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDraft marks upsert payloads that fail validation.
var ErrInvalidDraft = errors.New("invalid lyric draft")

const (
	maxTitleLen  = 200
	maxLyricsLen = 20000
)

// Draft is a shared lyric draft keyed by the client's external track ID.
type Draft struct {
	ExternalTrackID string    `json:"externalTrackId"`
	ProjectID       string    `json:"projectId,omitempty"`
	Title           string    `json:"title"`
	Artist          string    `json:"artist,omitempty"`
	BPM             float64   `json:"bpm,omitempty"`
	Lyrics          string    `json:"lyrics"`
	Collaborators   []string  `json:"collaborators"`
	Source          string    `json:"source,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
	ReceivedAt      time.Time `json:"receivedAt"`
}

// UpsertInput is the client-supplied portion of a draft.
type UpsertInput struct {
	ExternalTrackID string   `json:"externalTrackId"`
	ProjectID       string   `json:"projectId"`
	Title           string   `json:"title"`
	Artist          string   `json:"artist"`
	BPM             float64  `json:"bpm"`
	Lyrics          string   `json:"lyrics"`
	Collaborators   []string `json:"collaborators"`
	Source          string   `json:"source"`
}

// Validate normalizes the input in place and reports the first problem.
func (in *UpsertInput) Validate() error {
	in.ExternalTrackID = strings.TrimSpace(in.ExternalTrackID)
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.Title = strings.TrimSpace(in.Title)
	in.Artist = strings.TrimSpace(in.Artist)
	in.Source = strings.TrimSpace(in.Source)

	if in.ExternalTrackID == "" {
		return fmt.Errorf("%w: externalTrackId is required", ErrInvalidDraft)
	}
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidDraft)
	}
	if len(in.Title) > maxTitleLen {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidDraft, maxTitleLen)
	}
	if len(in.Lyrics) > maxLyricsLen {
		return fmt.Errorf("%w: lyrics exceed %d characters", ErrInvalidDraft, maxLyricsLen)
	}
	if in.BPM < 0 || in.BPM > 400 {
		return fmt.Errorf("%w: bpm out of range", ErrInvalidDraft)
	}

	cleaned := in.Collaborators[:0]
	for _, c := range in.Collaborators {
		c = strings.TrimSpace(c)
		if c != "" {
			cleaned = append(cleaned, c)
		}
	}
	in.Collaborators = cleaned
	return nil
}

// Merge folds an upsert into the existing record. Collaborators, source and
// bpm survive when the new payload omits them. UpdatedAt only moves when the
// merged content actually changed; ReceivedAt always reflects this write.
func Merge(existing *Draft, in UpsertInput, now time.Time) Draft {
	d := Draft{
		ExternalTrackID: in.ExternalTrackID,
		ProjectID:       in.ProjectID,
		Title:           in.Title,
		Artist:          in.Artist,
		BPM:             in.BPM,
		Lyrics:          in.Lyrics,
		Collaborators:   in.Collaborators,
		Source:          in.Source,
		UpdatedAt:       now,
		ReceivedAt:      now,
	}
	if d.Collaborators == nil {
		d.Collaborators = []string{}
	}

	if existing != nil {
		if len(in.Collaborators) == 0 {
			d.Collaborators = existing.Collaborators
		}
		if in.Source == "" {
			d.Source = existing.Source
		}
		if in.BPM == 0 {
			d.BPM = existing.BPM
		}
		if sameContent(d, *existing) {
			d.UpdatedAt = existing.UpdatedAt
		}
	}
	return d
}

func sameContent(a, b Draft) bool {
	if a.ProjectID != b.ProjectID || a.Title != b.Title || a.Artist != b.Artist ||
		a.BPM != b.BPM || a.Lyrics != b.Lyrics || a.Source != b.Source {
		return false
	}
	if len(a.Collaborators) != len(b.Collaborators) {
		return false
	}
	for i := range a.Collaborators {
		if a.Collaborators[i] != b.Collaborators[i] {
			return false
		}
	}
	return true
}

// Filter narrows a draft listing.
type Filter struct {
	ProjectID string
	Source    string
}

// Matches reports whether the draft passes every non-empty criterion.
func (f Filter) Matches(d Draft) bool {
	if f.ProjectID != "" && f.ProjectID != d.ProjectID {
		return false
	}
	if f.Source != "" && f.Source != d.Source {
		return false
	}
	return true
}
