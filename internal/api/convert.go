package api

import (
	"slices"
	"time"

	"reelsmith/internal/jobs"
	"reelsmith/internal/stage"
	"reelsmith/internal/workflow"
)

// FromJob converts a job record to its API representation.
func FromJob(job *jobs.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:        job.ID,
		Narration: job.Narration,
		Query:     job.Query,
		Status:    string(job.Status),
		Progress: JobProgress{
			Stage:   string(job.Stage),
			Percent: job.Progress,
			Message: job.ProgressMessage,
		},
		Attempt:      job.Attempt,
		CaptionCount: job.Metadata.CaptionCount,
		OutputPath:   job.Metadata.OutputPath,
		PublishedURL: job.Metadata.PublishedURL,
		LogPath:      job.LogPath,
		Owner:        job.Owner,
		CreatedAt:    FormatTime(job.CreatedAt),
		UpdatedAt:    FormatTime(job.UpdatedAt),
	}
	if job.Heartbeat != nil {
		dto.Heartbeat = FormatTime(*job.Heartbeat)
	}
	if f := job.Failure; f != nil {
		dto.Failure = &Failure{
			Code:      f.Code,
			Stage:     f.Stage,
			Kind:      f.Kind,
			Message:   f.Message,
			Retryable: f.Retryable,
			Attempts:  f.Attempts,
			Details:   f.Details,
			At:        FormatTime(f.At),
		}
	}
	for _, c := range job.Metadata.Clips {
		dto.Clips = append(dto.Clips, Clip{
			ID:              c.ID,
			SourceURL:       c.SourceURL,
			Duration:        c.Duration,
			Verdict:         string(c.Verdict),
			Reason:          c.Reason,
			Confidence:      c.Confidence,
			FramesProcessed: c.FramesProcessed,
		})
	}
	return dto
}

// FromJobs converts a slice of job records.
func FromJobs(list []*jobs.Job) []Job {
	out := make([]Job, 0, len(list))
	for _, job := range list {
		if job == nil {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		Owner:       summary.Owner,
		Workers:     summary.Workers,
		JobStats:    MergeJobStats(summary.JobCounts),
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		wf.LastJob = &last
	}
	return wf
}

// MergeJobStats produces a string-keyed count for every known status.
func MergeJobStats(stats map[jobs.Status]int) map[string]int {
	out := make(map[string]int, len(jobs.AllStatuses()))
	for _, status := range jobs.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// StageHealthSlice converts a stage health map into a slice in pipeline
// order. Names outside the pipeline follow, sorted.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		ia, ib := jobs.Stage(a).Index(), jobs.Stage(b).Index()
		switch {
		case ia >= 0 && ib >= 0:
			return ia - ib
		case ia >= 0:
			return -1
		case ib >= 0:
			return 1
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses a timestamp produced by FormatTime. Unparseable values
// yield the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
