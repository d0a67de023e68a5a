package reconcile

import "encoding/json"

// CallbackEvent is the typed shape of the workflow engine's result message.
// Every field except GenerationID is optional, and several concepts arrive
// under historical aliases; the precedence per logical field is fixed in
// ProcessCallback, not left to whichever alias happens to be present.
type CallbackEvent struct {
	GenerationID      string `json:"generationId"`
	Status            string `json:"status"`
	GeneratedImageURL string `json:"generatedImageUrl"`
	ErrorMessage      string `json:"errorMessage"`

	// Processing time in milliseconds; executionTime is the legacy alias.
	ProcessingTime FlexInt `json:"processingTime"`
	ExecutionTime  FlexInt `json:"executionTime"`

	// Quality: direct score first, overall score second, otherwise the mean
	// of the two constituent scores when both are present.
	QualityScore     FlexFloat `json:"qualityScore"`
	OverallScore     FlexFloat `json:"overallScore"`
	RealismScore     FlexFloat `json:"realismScore"`
	CommercialAppeal FlexFloat `json:"commercialAppeal"`

	CommercialStyle string `json:"commercialStyle"`
	TargetAudience  string `json:"targetAudience"`
	BrandGuidelines string `json:"brandGuidelines"`

	// Workflow metadata; comfyuiWorkflow is the legacy alias.
	WorkflowData    json.RawMessage `json:"workflowData"`
	ComfyUIWorkflow json.RawMessage `json:"comfyuiWorkflow"`

	ExecutionID     string `json:"executionId"`
	WorkflowVersion string `json:"workflowVersion"`
}

// QualityValue resolves the quality score alias chain. The second return is
// false when no variant is usable.
func (e *CallbackEvent) QualityValue() (float64, bool) {
	if e.QualityScore.Set {
		return e.QualityScore.Value, true
	}
	if e.OverallScore.Set {
		return e.OverallScore.Value, true
	}
	if e.RealismScore.Set && e.CommercialAppeal.Set {
		return (e.RealismScore.Value + e.CommercialAppeal.Value) / 2, true
	}
	return 0, false
}

// ProcessingValue resolves the processing-time alias chain.
func (e *CallbackEvent) ProcessingValue() (int64, bool) {
	if e.ProcessingTime.Set {
		return e.ProcessingTime.Value, true
	}
	if e.ExecutionTime.Set {
		return e.ExecutionTime.Value, true
	}
	return 0, false
}

// MetadataValue resolves the workflow-metadata alias chain.
func (e *CallbackEvent) MetadataValue() json.RawMessage {
	if len(e.WorkflowData) > 0 {
		return e.WorkflowData
	}
	if len(e.ComfyUIWorkflow) > 0 {
		return e.ComfyUIWorkflow
	}
	return nil
}
