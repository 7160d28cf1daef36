package models

import "time"

type Workspace struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	CreatedByUserID       string    `json:"createdByUserId"`
	CreatedType           string    `json:"createdType"`
	CurrentRevisionNumber int       `json:"currentRevisionNumber"`
	CreatedAt             time.Time `json:"createdAt"`
	LastUpdatedAt         time.Time `json:"lastUpdatedAt"`

	// Resolved on read (not stored directly)
	IsCurrentRevisionComplete bool            `json:"isCurrentRevisionComplete"`
	IncompleteRevisionNumber  *int            `json:"incompleteRevisionNumber,omitempty"`
	Charts                    []Chart         `json:"charts,omitempty"`
	Files                     []WorkspaceFile `json:"files,omitempty"` // loose files, not part of any chart
}

type Revision struct {
	WorkspaceID     string    `json:"workspaceId"`
	RevisionNumber  int       `json:"revisionNumber"`
	CreatedType     string    `json:"createdType"` // "bootstrap", "plan"
	CreatedByUserID string    `json:"createdByUserId"`
	PlanID          *string   `json:"planId,omitempty"`
	IsComplete      bool      `json:"isComplete"`
	IsRendered      bool      `json:"isRendered"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Chart struct {
	ID             string          `json:"id"`
	WorkspaceID    string          `json:"workspaceId"`
	RevisionNumber int             `json:"revisionNumber"`
	Name           string          `json:"name"`
	Files          []WorkspaceFile `json:"files,omitempty"`
}

type WorkspaceFile struct {
	ID             string  `json:"id"`
	WorkspaceID    string  `json:"workspaceId"`
	RevisionNumber int     `json:"revisionNumber"`
	ChartID        *string `json:"chartId,omitempty"` // nil for loose files
	FilePath       string  `json:"filePath"`
	Content        string  `json:"content"`
	ContentPending *string `json:"contentPending,omitempty"`
}

type ChatMessage struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspaceId"`
	RevisionNumber int       `json:"revisionNumber"`
	UserID         string    `json:"userId"`
	Prompt         string    `json:"prompt"`
	Response       *string   `json:"response,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`

	IsCanceled       bool `json:"isCanceled"`
	IsIntentComplete bool `json:"isIntentComplete"`
	IsDispatched     bool `json:"isDispatched"`

	Intent IntentFlags `json:"intent"`

	ResponsePlanID                   *string          `json:"responsePlanId,omitempty"`
	ResponseRenderID                 *string          `json:"responseRenderId,omitempty"`
	ResponseConversionID             *string          `json:"responseConversionId,omitempty"`
	ResponseRollbackToRevisionNumber *int             `json:"responseRollbackToRevisionNumber,omitempty"`
	FollowupActions                  []FollowupAction `json:"followupActions,omitempty"`
}

// IntentFlags are the classification results recorded on a chat message.
type IntentFlags struct {
	IsConversational bool `json:"isConversational"`
	IsPlan           bool `json:"isPlan"`
	IsRender         bool `json:"isRender"`
	IsOffTopic       bool `json:"isOffTopic"`
	IsChartDeveloper bool `json:"isChartDeveloper"`
	IsChartOperator  bool `json:"isChartOperator"`
	IsProceed        bool `json:"isProceed"`
}

type FollowupAction struct {
	Action string `json:"action"`
	Label  string `json:"label"`
}

type PlanStatus string

const (
	PlanStatusPending  PlanStatus = "pending"
	PlanStatusReview   PlanStatus = "review"
	PlanStatusApplying PlanStatus = "applying"
	PlanStatusApplied  PlanStatus = "applied"
	PlanStatusIgnored  PlanStatus = "ignored"
)

type Plan struct {
	ID             string       `json:"id"`
	WorkspaceID    string       `json:"workspaceId"`
	ChatMessageIDs []string     `json:"chatMessageIds,omitempty"`
	Description    string       `json:"description"`
	Status         PlanStatus   `json:"status"`
	ProceedAt      *time.Time   `json:"proceedAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	ActionFiles    []ActionFile `json:"actionFiles,omitempty"`
}

type ActionFile struct {
	Action string `json:"action"` // "create", "update", "delete"
	Path   string `json:"path"`
	Status string `json:"status"` // "pending", "creating", "created"
}

type Conversion struct {
	ID             string           `json:"id"`
	WorkspaceID    string           `json:"workspaceId"`
	ChatMessageIDs []string         `json:"chatMessageIds,omitempty"`
	SourceType     string           `json:"sourceType"`
	Status         ConversionStatus `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
	SourceFiles    []ConversionFile `json:"sourceFiles,omitempty"`
}

type ConversionFile struct {
	ID             string               `json:"id"`
	ConversionID   string               `json:"conversionId"`
	FilePath       string               `json:"filePath"`
	FileContent    string               `json:"fileContent"`
	FileStatus     ConversionFileStatus `json:"fileStatus"`
	ConvertedFiles map[string]string    `json:"convertedFiles,omitempty"`
}

type RenderedWorkspace struct {
	ID             string          `json:"id"`
	WorkspaceID    string          `json:"workspaceId"`
	RevisionNumber int             `json:"revisionNumber"`
	IsAutorender   bool            `json:"isAutorender"`
	CreatedAt      time.Time       `json:"createdAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	Charts         []RenderedChart `json:"charts,omitempty"`
}

type RenderedChart struct {
	ID                  string         `json:"id"`
	RenderedWorkspaceID string         `json:"renderedWorkspaceId"`
	ChartID             string         `json:"chartId"`
	ChartName           string         `json:"chartName"`
	IsSuccess           bool           `json:"isSuccess"`
	DepUpdateCommand    string         `json:"depUpdateCommand"`
	DepUpdateStdout     string         `json:"depUpdateStdout"`
	DepUpdateStderr     string         `json:"depUpdateStderr"`
	HelmTemplateCommand string         `json:"helmTemplateCommand"`
	HelmTemplateStdout  string         `json:"helmTemplateStdout"`
	HelmTemplateStderr  string         `json:"helmTemplateStderr"`
	CreatedAt           time.Time      `json:"createdAt"`
	CompletedAt         *time.Time     `json:"completedAt,omitempty"`
	Files               []RenderedFile `json:"files,omitempty"`
}

type RenderedFile struct {
	ID              string `json:"id"`
	RenderedChartID string `json:"renderedChartId"`
	FilePath        string `json:"filePath"`
	RenderedContent string `json:"renderedContent"`
}

type WorkItem struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

type ReplayEvent struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"userId"`
	Channel     string    `json:"channel"`
	MessageData string    `json:"messageData"`
	CreatedAt   time.Time `json:"createdAt"`
}
