package models

import "time"

// Job represents one ingested job request message as stored in the job table
type Job struct {
	RowID       int64
	Manifest    []byte  // Original message content, never rewritten
	InterveneID *string // Projected from $.pipeline_param.id, nil for unparseable manifests
	Valid       bool
	Staged      bool
	Submitted   bool
	SlurmID     *string
	InsertedAt  time.Time
}

// JobState names a boolean state column of the job table
type JobState string

const (
	JobStateStaged    JobState = "staged"
	JobStateSubmitted JobState = "submitted"
)

// Message is a job request read from the object store queue
type Message struct {
	Bucket  string
	Key     string
	Content []byte
	Valid   bool
}
