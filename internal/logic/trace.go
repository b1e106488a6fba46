package logic

import "github.com/patrickwarner/adselection/internal/models"

// TraceStep records the state of a selection stage.
type TraceStep struct {
	Stage      string            `json:"stage"`
	ContentIDs []string          `json:"content_ids,omitempty"`
	GroupIDs   []string          `json:"group_ids,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// SelectionTrace captures the ordered list of steps performed by a selector.
// A nil trace is valid and records nothing.
type SelectionTrace struct {
	Steps []TraceStep `json:"steps"`
}

// AddStep appends a trace entry listing the given contents.
func (t *SelectionTrace) AddStep(stage string, contents []models.AdvertisementContent) {
	t.AddStepWithDetails(stage, contents, nil)
}

// AddStepWithDetails appends a trace entry with additional details.
// Duplicate content IDs are removed.
func (t *SelectionTrace) AddStepWithDetails(stage string, contents []models.AdvertisementContent, details map[string]string) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: stage, Details: details}
	seen := make(map[string]struct{})
	for _, c := range contents {
		if _, ok := seen[c.ContentID]; ok {
			continue
		}
		seen[c.ContentID] = struct{}{}
		step.ContentIDs = append(step.ContentIDs, c.ContentID)
	}
	t.Steps = append(t.Steps, step)
}

// AddGroupStep records the evaluation of one targeting group.
func (t *SelectionTrace) AddGroupStep(stage, contentID, groupID string, details map[string]string) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: stage, ContentIDs: []string{contentID}, Details: details}
	if groupID != "" {
		step.GroupIDs = []string{groupID}
	}
	t.Steps = append(t.Steps, step)
}
