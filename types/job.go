package types

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

const ContentTypePDF = "application/pdf"

// Job is the unit of work passed between pipeline stages. JobID becomes the
// correlation id of the resulting document and all of its chunks.
type Job struct {
	JobID            string         `json:"job_id"`
	SourceURL        string         `json:"source_url"`
	ContentType      string         `json:"content_type"`
	SourceProperties map[string]any `json:"source_properties"`
}

func EncodeJob(job *Job) ([]byte, error) {
	if job == nil {
		return nil, fmt.Errorf("encode job: nil job")
	}
	return json.Marshal(job)
}

// DecodeJob returns nil when the payload is not a valid job. The error is
// logged, not returned, so a bad entry never fails its batch.
func DecodeJob(logger *slog.Logger, data []byte) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	if len(data) == 0 {
		return nil
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		logger.Error("failed to decode job payload", "error", err, "size", len(data))
		return nil
	}
	if job.JobID == "" {
		logger.Error("job payload without job_id", "payload", string(data))
		return nil
	}
	if job.SourceProperties == nil {
		job.SourceProperties = map[string]any{}
	}
	return &job
}

func EncodeStatusEvent(ev StatusEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func DecodeStatusEvent(logger *slog.Logger, data []byte) *StatusEvent {
	if logger == nil {
		logger = slog.Default()
	}
	var ev StatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Error("failed to decode status event", "error", err)
		return nil
	}
	if _, err := ParseIndexStatus(string(ev.Status)); err != nil || ev.CorrelationID == "" {
		logger.Error("invalid status event", "payload", string(data))
		return nil
	}
	return &ev
}
