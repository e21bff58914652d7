package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type Kind string

const (
	KindIntake    Kind = "intake"
	KindDecompose Kind = "decompose"
	KindRow       Kind = "row"
)

// Job is one unit of pipeline work. The set of jobs is closed: only the types
// in this file implement it.
type Job interface {
	Kind() Kind
	isJob()
}

// IntakeJob moves a freshly uploaded file into durable working storage.
type IntakeJob struct {
	UploadID     uuid.UUID `json:"uploadId"`
	FilePath     string    `json:"filePath"`
	MimeType     string    `json:"mimeType"`
	OriginalName string    `json:"originalName"`
	SizeBytes    int64     `json:"sizeBytes"`
}

// DecomposeJob splits a durable file into row chunks.
type DecomposeJob struct {
	UploadID uuid.UUID `json:"uploadId"`
	FilePath string    `json:"filePath"`
	MimeType string    `json:"mimeType"`
}

// RowJob validates and persists the rows of one chunk.
type RowJob struct {
	UploadID   uuid.UUID `json:"uploadId"`
	ChunkIndex int       `json:"chunkIndex"`
	ChunkPath  string    `json:"chunkPath"`
}

func (IntakeJob) Kind() Kind    { return KindIntake }
func (DecomposeJob) Kind() Kind { return KindDecompose }
func (RowJob) Kind() Kind       { return KindRow }

func (IntakeJob) isJob()    {}
func (DecomposeJob) isJob() {}
func (RowJob) isJob()       {}

// Envelope is the JSON stored in a stream entry's data field.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Attempt int             `json:"attempt"`
	Job     json.RawMessage `json:"job"`
}

// Encode wraps job in an envelope for the given attempt (1-based).
func Encode(job Job, attempt int) (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal %s job: %w", job.Kind(), err)
	}
	b, err := json.Marshal(Envelope{Kind: job.Kind(), Attempt: attempt, Job: body})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(b), nil
}

// Decode parses an envelope back into its concrete job.
func Decode(data string) (Job, int, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, 0, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var job Job
	var err error
	switch env.Kind {
	case KindIntake:
		var j IntakeJob
		err = json.Unmarshal(env.Job, &j)
		job = j
	case KindDecompose:
		var j DecomposeJob
		err = json.Unmarshal(env.Job, &j)
		job = j
	case KindRow:
		var j RowJob
		err = json.Unmarshal(env.Job, &j)
		job = j
	default:
		return nil, 0, fmt.Errorf("unknown job kind %q", env.Kind)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("unmarshal %s job: %w", env.Kind, err)
	}

	attempt := env.Attempt
	if attempt < 1 {
		attempt = 1
	}
	return job, attempt, nil
}
