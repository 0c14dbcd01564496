package rules

import (
	"errors"
	"fmt"
)

// TaskStatusData is the state of one checklist task
type TaskStatusData struct {
	TaskID      string `json:"taskId"`
	Name        string `json:"name,omitempty"`
	IsCompleted bool   `json:"isCompleted"`
	IsRequired  bool   `json:"isRequired,omitempty"`
}

// ChecklistData is a checklist snapshot
type ChecklistData struct {
	ChecklistID    string           `json:"checklistId"`
	Status         string           `json:"status"`
	CompletedCount int              `json:"completedCount"`
	TotalCount     int              `json:"totalCount"`
	Tasks          []TaskStatusData `json:"tasks,omitempty"`
}

// CompletionPercentage is derived from the counts, 0 for an empty checklist
func (c ChecklistData) CompletionPercentage() float64 {
	if c.TotalCount <= 0 {
		return 0
	}
	return float64(c.CompletedCount) * 100 / float64(c.TotalCount)
}

// QuestionnaireData is a questionnaire snapshot. TotalScore is nil until scored.
type QuestionnaireData struct {
	QuestionnaireID string         `json:"questionnaireId"`
	Status          string         `json:"status"`
	TotalScore      *float64       `json:"totalScore,omitempty"`
	Answers         map[string]any `json:"answers,omitempty"`
}

// AttachmentData summarizes the files uploaded to a stage
type AttachmentData struct {
	FileCount int      `json:"fileCount"`
	TotalSize int64    `json:"totalSize"`
	FileNames []string `json:"fileNames,omitempty"`
}

// HasAttachment is derived from FileCount
func (a AttachmentData) HasAttachment() bool {
	return a.FileCount > 0
}

// BusinessDataContext is the read-only snapshot a condition is evaluated against
type BusinessDataContext struct {
	OnboardingID   int64               `json:"onboardingId"`
	StageID        int64               `json:"stageId"`
	Checklists     []ChecklistData     `json:"checklists,omitempty"`
	Questionnaires []QuestionnaireData `json:"questionnaires,omitempty"`
	Attachments    AttachmentData      `json:"attachments"`
	Fields         map[string]any      `json:"fields,omitempty"`
}

var ErrNilContext = errors.New("business data context is nil")

// Bindings lays the context out under the input namespace:
//
//	input.checklist      completedCount, totalCount, completionPercentage, isCompleted,
//	                     lists[checklistId], tasks[checklistId][taskId]
//	input.questionnaire  status[id], totalScore[id], answers[id][question]
//	input.attachments    fileCount, totalSize, fileNames, hasAttachment
//	input.fields         fields by id
//
// Derived values are computed here and never stored on the context.
func (c *BusinessDataContext) Bindings() (map[string]any, error) {
	if c == nil {
		return nil, ErrNilContext
	}

	checklist, err := c.checklistBindings()
	if err != nil {
		return nil, err
	}
	questionnaire, err := c.questionnaireBindings()
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		fields[k] = v
	}
	fileNames := make([]any, 0, len(c.Attachments.FileNames))
	for _, name := range c.Attachments.FileNames {
		fileNames = append(fileNames, name)
	}

	return map[string]any{
		"input": map[string]any{
			"checklist":     checklist,
			"questionnaire": questionnaire,
			"attachments": map[string]any{
				"fileCount":     int64(c.Attachments.FileCount),
				"totalSize":     c.Attachments.TotalSize,
				"fileNames":     fileNames,
				"hasAttachment": c.Attachments.HasAttachment(),
			},
			"fields": fields,
		},
	}, nil
}

func (c *BusinessDataContext) checklistBindings() (map[string]any, error) {
	lists := make(map[string]any, len(c.Checklists))
	tasks := make(map[string]any, len(c.Checklists))
	var completed, total int
	for i, cl := range c.Checklists {
		if cl.ChecklistID == "" {
			return nil, fmt.Errorf("checklists[%d]: checklist id is empty", i)
		}
		if _, dup := lists[cl.ChecklistID]; dup {
			return nil, fmt.Errorf("checklists[%d]: duplicate checklist id %q", i, cl.ChecklistID)
		}
		completed += cl.CompletedCount
		total += cl.TotalCount

		byTask := make(map[string]any, len(cl.Tasks))
		for j, t := range cl.Tasks {
			if t.TaskID == "" {
				return nil, fmt.Errorf("checklists[%d].tasks[%d]: task id is empty", i, j)
			}
			byTask[t.TaskID] = map[string]any{
				"name":        t.Name,
				"isCompleted": t.IsCompleted,
				"isRequired":  t.IsRequired,
			}
		}
		tasks[cl.ChecklistID] = byTask
		lists[cl.ChecklistID] = map[string]any{
			"status":               cl.Status,
			"completedCount":       int64(cl.CompletedCount),
			"totalCount":           int64(cl.TotalCount),
			"completionPercentage": cl.CompletionPercentage(),
			"isCompleted":          cl.TotalCount > 0 && cl.CompletedCount >= cl.TotalCount,
		}
	}

	aggregate := ChecklistData{CompletedCount: completed, TotalCount: total}
	return map[string]any{
		"completedCount":       int64(completed),
		"totalCount":           int64(total),
		"completionPercentage": aggregate.CompletionPercentage(),
		"isCompleted":          total > 0 && completed >= total,
		"lists":                lists,
		"tasks":                tasks,
	}, nil
}

func (c *BusinessDataContext) questionnaireBindings() (map[string]any, error) {
	status := make(map[string]any, len(c.Questionnaires))
	scores := make(map[string]any, len(c.Questionnaires))
	answers := make(map[string]any, len(c.Questionnaires))
	for i, q := range c.Questionnaires {
		if q.QuestionnaireID == "" {
			return nil, fmt.Errorf("questionnaires[%d]: questionnaire id is empty", i)
		}
		if _, dup := status[q.QuestionnaireID]; dup {
			return nil, fmt.Errorf("questionnaires[%d]: duplicate questionnaire id %q", i, q.QuestionnaireID)
		}
		status[q.QuestionnaireID] = q.Status
		if q.TotalScore != nil {
			scores[q.QuestionnaireID] = *q.TotalScore
		}
		a := make(map[string]any, len(q.Answers))
		for k, v := range q.Answers {
			a[k] = v
		}
		answers[q.QuestionnaireID] = a
	}
	return map[string]any{
		"status":     status,
		"totalScore": scores,
		"answers":    answers,
	}, nil
}
