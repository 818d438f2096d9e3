package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job in a transport-friendly format.
type Job struct {
	ID           string      `json:"id"`
	Narration    string      `json:"narration"`
	Query        string      `json:"query"`
	Status       string      `json:"status"`
	Progress     JobProgress `json:"progress"`
	Attempt      int         `json:"attempt,omitempty"`
	Failure      *Failure    `json:"failure,omitempty"`
	Clips        []Clip      `json:"clips,omitempty"`
	CaptionCount int         `json:"captionCount,omitempty"`
	OutputPath   string      `json:"outputPath,omitempty"`
	PublishedURL string      `json:"publishedUrl,omitempty"`
	LogPath      string      `json:"logPath,omitempty"`
	Owner        string      `json:"owner,omitempty"`
	Heartbeat    string      `json:"heartbeat,omitempty"`
	CreatedAt    string      `json:"createdAt,omitempty"`
	UpdatedAt    string      `json:"updatedAt,omitempty"`
}

// JobProgress captures stage progress information for a job.
type JobProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// Failure is the structured reason a job failed.
type Failure struct {
	Code      string         `json:"code"`
	Stage     string         `json:"stage,omitempty"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Attempts  int            `json:"attempts,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	At        string         `json:"at,omitempty"`
}

// Clip summarizes a downloaded clip and its validation verdict.
type Clip struct {
	ID              string  `json:"id"`
	SourceURL       string  `json:"sourceUrl"`
	Duration        float64 `json:"duration"`
	Verdict         string  `json:"verdict"`
	Reason          string  `json:"reason,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	FramesProcessed int     `json:"framesProcessed,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Owner       string         `json:"owner,omitempty"`
	Workers     int            `json:"workers"`
	JobStats    map[string]int `json:"jobStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *Job           `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status   string          `json:"status"`
	Store    string          `json:"store"`
	Workflow *WorkflowStatus `json:"workflow,omitempty"`
}

// SubmitRequest is the body of a job submission.
type SubmitRequest struct {
	Narration string          `json:"narration" binding:"required"`
	Query     string          `json:"query" binding:"required"`
	Target    *TargetOverride `json:"target,omitempty"`
}

// TargetOverride replaces parts of the configured composition target.
type TargetOverride struct {
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	FrameRate float64 `json:"frameRate,omitempty"`
}

// JobStatsResponse provides a normalized job count payload.
type JobStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Items []Job `json:"items"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code,omitempty"`
	Kind              string `json:"kind,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}
