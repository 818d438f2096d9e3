package jobs

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelsmith/internal/media"
	"reelsmith/internal/services"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further work will happen for the status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Stage names one step of the pipeline.
type Stage string

const (
	StageFetchCandidates     Stage = "fetch_candidates"
	StageSelect              Stage = "select"
	StageDownload            Stage = "download"
	StageAnalyzeAudio        Stage = "analyze_audio"
	StageSynchronizeCaptions Stage = "synchronize_captions"
	StageTrim                Stage = "trim"
	StageAssemble            Stage = "assemble"
	StageCompose             Stage = "compose"
	// StageDone marks a job whose every stage has succeeded.
	StageDone Stage = "done"
)

var stageOrder = []Stage{
	StageFetchCandidates,
	StageSelect,
	StageDownload,
	StageAnalyzeAudio,
	StageSynchronizeCaptions,
	StageTrim,
	StageAssemble,
	StageCompose,
}

// Stages returns the fixed stage order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index returns the position of s in the stage order, or -1.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	if s == StageDone {
		return len(stageOrder)
	}
	return -1
}

// Next returns the stage that follows s.
func (s Stage) Next() Stage {
	idx := s.Index()
	if idx < 0 || idx+1 >= len(stageOrder) {
		return StageDone
	}
	return stageOrder[idx+1]
}

// Verdict is the validation outcome of a candidate clip.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// Clip is a candidate clip as it moves through the pipeline.
type Clip struct {
	ID              string     `json:"id"`
	SourceURL       string     `json:"source_url"`
	Title           string     `json:"title,omitempty"`
	Score           float64    `json:"score,omitempty"`
	Duration        float64    `json:"duration"`
	Width           int        `json:"width,omitempty"`
	Height          int        `json:"height,omitempty"`
	LocalPath       string     `json:"local_path,omitempty"`
	Spec            media.Spec `json:"spec"`
	Verdict         Verdict    `json:"verdict"`
	Reason          string     `json:"reason,omitempty"`
	Confidence      float64    `json:"confidence,omitempty"`
	FramesProcessed int        `json:"frames_processed,omitempty"`
	TrimStart       float64    `json:"trim_start,omitempty"`
	TrimDuration    float64    `json:"trim_duration,omitempty"`
	TrimmedPath     string     `json:"trimmed_path,omitempty"`
}

// SetVerdict records a validation outcome. A rejected clip can never become
// approved again.
func (c *Clip) SetVerdict(v Verdict, reason string, confidence float64) error {
	if c.Verdict == VerdictRejected && v != VerdictRejected {
		return services.Errorf(services.ErrValidation, "", "set_verdict",
			"clip %s was rejected (%s) and cannot become %s", c.ID, c.Reason, v)
	}
	c.Verdict = v
	c.Reason = reason
	c.Confidence = confidence
	return nil
}

// Failure is the structured record of why a job failed.
type Failure struct {
	Code      string         `json:"code"`
	Stage     string         `json:"stage,omitempty"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Attempts  int            `json:"attempts,omitempty"`
	At        time.Time      `json:"at"`
}

// FailureFromError flattens err into a Failure.
func FailureFromError(err error, stage Stage, attempts int, at time.Time) *Failure {
	desc := services.Describe(err)
	if desc.Stage == "" {
		desc.Stage = string(stage)
	}
	details := desc.Details
	if desc.Cause != nil {
		if details == nil {
			details = map[string]any{}
		}
		details["cause"] = desc.Cause.Error()
	}
	return &Failure{
		Code:      desc.Code,
		Stage:     desc.Stage,
		Kind:      desc.Kind,
		Message:   desc.Message,
		Retryable: desc.Retryable,
		Details:   details,
		Attempts:  attempts,
		At:        at.UTC(),
	}
}

// Metadata accumulates stage outputs.
type Metadata struct {
	Candidates        []Clip              `json:"candidates,omitempty"`
	Selected          []string            `json:"selected,omitempty"`
	Clips             []Clip              `json:"clips,omitempty"`
	NarrationDuration float64             `json:"narration_duration,omitempty"`
	Transcript        []media.TextSegment `json:"transcript,omitempty"`
	SpeechSegments    []media.Segment     `json:"speech_segments,omitempty"`
	SpeechDetector    string              `json:"speech_detector,omitempty"`
	CaptionPath       string              `json:"caption_path,omitempty"`
	CaptionCount      int                 `json:"caption_count,omitempty"`
	AssembledPath     string              `json:"assembled_path,omitempty"`
	OutputPath        string              `json:"output_path,omitempty"`
	PublishedURL      string              `json:"published_url,omitempty"`
}

// ClipByID returns the downloaded clip with id.
func (m *Metadata) ClipByID(id string) (*Clip, bool) {
	for i := range m.Clips {
		if m.Clips[i].ID == id {
			return &m.Clips[i], true
		}
	}
	return nil, false
}

// ApprovedClips returns the downloaded clips whose verdict is approved, in
// order.
func (m *Metadata) ApprovedClips() []Clip {
	var out []Clip
	for _, c := range m.Clips {
		if c.Verdict == VerdictApproved {
			out = append(out, c)
		}
	}
	return out
}

// Job is one composition request and its progress.
type Job struct {
	ID              string       `json:"id"`
	Narration       string       `json:"narration"`
	Query           string       `json:"query"`
	Target          media.Target `json:"target"`
	Stage           Stage        `json:"stage"`
	Status          Status       `json:"status"`
	Progress        float64      `json:"progress"`
	ProgressMessage string       `json:"progress_message,omitempty"`
	Attempt         int          `json:"attempt,omitempty"`
	Failure         *Failure     `json:"failure,omitempty"`
	Metadata        Metadata     `json:"metadata"`
	Owner           string       `json:"owner,omitempty"`
	Heartbeat       *time.Time   `json:"heartbeat,omitempty"`
	LogPath         string       `json:"log_path,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// New builds a pending job starting at the first stage.
func New(narration, query string, target media.Target) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Narration: strings.TrimSpace(narration),
		Query:     strings.TrimSpace(query),
		Target:    target,
		Stage:     StageFetchCandidates,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	data, err := json.Marshal(j)
	if err != nil {
		cp := *j
		return &cp
	}
	var out Job
	if err := json.Unmarshal(data, &out); err != nil {
		cp := *j
		return &cp
	}
	return &out
}

// SetProgress updates the progress fields.
func (j *Job) SetProgress(percent float64, message string) {
	j.Progress = min(max(percent, 0), 100)
	j.ProgressMessage = message
}

// Advance moves the job past its current stage. Stages only move forward.
func (j *Job) Advance() {
	j.Stage = j.Stage.Next()
	j.Attempt = 0
	if j.Stage == StageDone {
		j.Status = StatusCompleted
		j.SetProgress(100, "completed")
	}
}

// Fail marks the job failed with failure.
func (j *Job) Fail(failure *Failure) {
	j.Status = StatusFailed
	j.Failure = failure
	j.Owner = ""
	j.Heartbeat = nil
	if failure != nil {
		j.ProgressMessage = failure.Message
	}
}
