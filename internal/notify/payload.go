package notify

import "time"

// FieldNames names the completion payload keys carrying the artifact value and
// the correlation id, so the payload matches what the consumer expects.
type FieldNames struct {
	Value string
	ID    string
}

// DefaultFieldNames returns {"videoUrl", "profileId"}.
func DefaultFieldNames() FieldNames {
	return FieldNames{Value: "videoUrl", ID: "profileId"}
}

func (f FieldNames) withDefaults() FieldNames {
	d := DefaultFieldNames()
	if f.Value == "" {
		f.Value = d.Value
	}
	if f.ID == "" {
		f.ID = d.ID
	}
	return f
}

// BuildCompletionPayload returns extra merged with the configured value and id
// keys. The value and id keys win over colliding keys in extra.
func BuildCompletionPayload(fields FieldNames, value any, correlationID string, extra map[string]any) map[string]any {
	fields = fields.withDefaults()

	payload := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		payload[k] = v
	}
	payload[fields.Value] = value
	payload[fields.ID] = correlationID
	return payload
}

// ProcessType tags which flow a failure report came from.
type ProcessType string

const (
	// ProcessUpload is the single-file compress and extract flow.
	ProcessUpload ProcessType = "upload"
	// ProcessStory is the download and segment flow.
	ProcessStory ProcessType = "story"
)

// FailureReport describes a job that reached the failure state.
type FailureReport struct {
	ProcessType ProcessType
	Error       string
	Stack       string
	Metadata    map[string]any
}

// failurePayload is the JSON body posted to the error endpoint.
type failurePayload struct {
	ProcessType ProcessType    `json:"processType"`
	Error       string         `json:"error"`
	Stack       string         `json:"stack,omitempty"`
	Metadata    map[string]any `json:"metadata"`
	Timestamp   time.Time      `json:"timestamp"`
}

func newFailurePayload(r FailureReport, now time.Time) failurePayload {
	metadata := r.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return failurePayload{
		ProcessType: r.ProcessType,
		Error:       r.Error,
		Stack:       r.Stack,
		Metadata:    metadata,
		Timestamp:   now.UTC(),
	}
}
