package workflow

import (
	"reelsmith/internal/jobs"
	"reelsmith/internal/stage"
)

// StageSet bundles the stage handlers the manager orchestrates.
type StageSet struct {
	FetchCandidates     stage.Handler
	Select              stage.Handler
	Download            stage.Handler
	AnalyzeAudio        stage.Handler
	SynchronizeCaptions stage.Handler
	Trim                stage.Handler
	Assemble            stage.Handler
	Compose             stage.Handler
}

type pipelineStage struct {
	name    jobs.Stage
	handler stage.Handler
}

func (s StageSet) handler(name jobs.Stage) stage.Handler {
	switch name {
	case jobs.StageFetchCandidates:
		return s.FetchCandidates
	case jobs.StageSelect:
		return s.Select
	case jobs.StageDownload:
		return s.Download
	case jobs.StageAnalyzeAudio:
		return s.AnalyzeAudio
	case jobs.StageSynchronizeCaptions:
		return s.SynchronizeCaptions
	case jobs.StageTrim:
		return s.Trim
	case jobs.StageAssemble:
		return s.Assemble
	case jobs.StageCompose:
		return s.Compose
	default:
		return nil
	}
}
