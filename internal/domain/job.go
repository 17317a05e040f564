package domain

import "time"

// JobState enumerates the engine-visible lifecycle of a generation job.
type JobState string

const (
	JobStateSubmitting JobState = "submitting"
	JobStatePending    JobState = "pending"
	JobStateFinished   JobState = "finished"
	JobStateFailed     JobState = "failed"
)

// GenerationJob is the persisted record of one photo-to-video generation.
// The JSON field names are the on-disk contract: records written by earlier
// versions must keep decoding, and unknown fields are ignored on read.
type GenerationJob struct {
	ID              string    `json:"id"`
	ServerJobID     string    `json:"generationId,omitempty"`
	DisplayName     string    `json:"name,omitempty"`
	SourceImagePath *string   `json:"imagePath,omitempty"`
	ResultURL       *string   `json:"video,omitempty"`
	Finished        *bool     `json:"isFinished,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// IsFinished reports whether the job reached terminal success.
func (j GenerationJob) IsFinished() bool {
	return j.Finished != nil && *j.Finished
}

// Merge overlays the non-null fields of update onto base, last non-null wins
// per field. Identity fields (id, generationId) keep the base value once set.
func Merge(base, update GenerationJob) GenerationJob {
	out := base
	if out.ServerJobID == "" {
		out.ServerJobID = update.ServerJobID
	}
	if update.DisplayName != "" {
		out.DisplayName = update.DisplayName
	}
	if update.SourceImagePath != nil {
		out.SourceImagePath = update.SourceImagePath
	}
	if update.ResultURL != nil {
		out.ResultURL = update.ResultURL
	}
	if update.Finished != nil {
		out.Finished = update.Finished
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = update.CreatedAt
	}
	return out
}

// String returns a pointer to s, for populating nullable record fields.
func String(s string) *string { return &s }

// Bool returns a pointer to b, for populating nullable record fields.
func Bool(b bool) *bool { return &b }
