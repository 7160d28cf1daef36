package models

// Intent is the workflow a chat message is dispatched to.
type Intent string

const (
	IntentUnknown          Intent = ""
	IntentPlan             Intent = "plan"
	IntentNonPlan          Intent = "non_plan"
	IntentRender           Intent = "render"
	IntentConvertK8sToHelm Intent = "convert_k8s_to_helm"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentUnknown, IntentPlan, IntentNonPlan, IntentRender, IntentConvertK8sToHelm:
		return true
	}
	return false
}

// ConversionStatus progresses strictly forward, one stage at a time.
type ConversionStatus string

const (
	ConversionStatusPending     ConversionStatus = "pending"
	ConversionStatusAnalyzing   ConversionStatus = "analyzing"
	ConversionStatusSorting     ConversionStatus = "sorting"
	ConversionStatusTemplating  ConversionStatus = "templating"
	ConversionStatusNormalizing ConversionStatus = "normalizing"
	ConversionStatusSimplifying ConversionStatus = "simplifying"
	ConversionStatusFinalizing  ConversionStatus = "finalizing"
	ConversionStatusComplete    ConversionStatus = "complete"
)

var conversionStages = []ConversionStatus{
	ConversionStatusPending,
	ConversionStatusAnalyzing,
	ConversionStatusSorting,
	ConversionStatusTemplating,
	ConversionStatusNormalizing,
	ConversionStatusSimplifying,
	ConversionStatusFinalizing,
	ConversionStatusComplete,
}

// Next returns the stage that follows s. ok is false for the terminal
// stage and for unknown values.
func (s ConversionStatus) Next() (next ConversionStatus, ok bool) {
	for i, stage := range conversionStages {
		if stage == s && i+1 < len(conversionStages) {
			return conversionStages[i+1], true
		}
	}
	return "", false
}

// Previous returns the stage that must precede s.
func (s ConversionStatus) Previous() (prev ConversionStatus, ok bool) {
	for i, stage := range conversionStages {
		if stage == s && i > 0 {
			return conversionStages[i-1], true
		}
	}
	return "", false
}

type ConversionFileStatus string

const (
	ConversionFileStatusPending     ConversionFileStatus = "pending"
	ConversionFileStatusProcessing  ConversionFileStatus = "processing"
	ConversionFileStatusConverted   ConversionFileStatus = "converted"
	ConversionFileStatusSimplifying ConversionFileStatus = "simplifying"
	ConversionFileStatusCompleted   ConversionFileStatus = "completed"
)

var conversionFileStages = []ConversionFileStatus{
	ConversionFileStatusPending,
	ConversionFileStatusProcessing,
	ConversionFileStatusConverted,
	ConversionFileStatusSimplifying,
	ConversionFileStatusCompleted,
}

func (s ConversionFileStatus) Previous() (prev ConversionFileStatus, ok bool) {
	for i, stage := range conversionFileStages {
		if stage == s && i > 0 {
			return conversionFileStages[i-1], true
		}
	}
	return "", false
}

// planPrevious maps the plan states a worker may report to the state they
// must follow. Applying is entered by proceeding and ignored by
// supersession, never by a status report.
var planPrevious = map[PlanStatus]PlanStatus{
	PlanStatusReview:  PlanStatusPending,
	PlanStatusApplied: PlanStatusApplying,
}

// Previous returns the state a plan must be in to move to s.
func (s PlanStatus) Previous() (prev PlanStatus, ok bool) {
	prev, ok = planPrevious[s]
	return prev, ok
}
