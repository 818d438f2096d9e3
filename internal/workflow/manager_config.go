package workflow

import (
	"fmt"
	"strings"

	"reelsmith/internal/jobs"
)

// ConfigureStages registers the concrete stage handlers in pipeline order.
func (m *Manager) ConfigureStages(set StageSet) {
	stages := make([]pipelineStage, 0, len(jobs.Stages()))
	for _, name := range jobs.Stages() {
		stages = append(stages, pipelineStage{name: name, handler: set.handler(name)})
	}
	m.mu.Lock()
	m.stages = stages
	m.mu.Unlock()
}

func (m *Manager) stageFor(name jobs.Stage) (pipelineStage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, stg := range m.stages {
		if stg.name == name {
			return stg, stg.handler != nil
		}
	}
	return pipelineStage{}, false
}

// missingStages lists stages without a handler.
func (m *Manager) missingStages() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.stages) == 0 {
		return fmt.Errorf("workflow stages not configured")
	}
	var missing []string
	for _, stg := range m.stages {
		if stg.handler == nil {
			missing = append(missing, string(stg.name))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("workflow stages missing handlers: %s", strings.Join(missing, ", "))
	}
	return nil
}
