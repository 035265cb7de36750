package job

// Snapshot projects a job into the wire shape consumed by status readers
// (an HTTP layer, a CLI, ...). ExtraMetadata keys are merged in verbatim and
// win over nothing: core keys are written last so they cannot be shadowed.
//
// Shape: {type, started_by, status, percentage, progress, id, cancellable,
// exception?, traceback?, ...extra_metadata}.
func Snapshot(j *Job) map[string]any {
	if j == nil {
		return MissingSnapshot()
	}

	out := map[string]any{
		"type":       j.Type,
		"started_by": nil,
	}
	for k, v := range j.ExtraMetadata {
		out[k] = v
	}

	detail := j.Detail
	if detail == nil {
		detail = []ProgressEntry{}
	}

	out["status"] = j.State
	out["percentage"] = j.Progress
	out["progress"] = detail
	out["id"] = j.ID
	out["cancellable"] = j.Cancellable
	if j.State == Failed {
		out["exception"] = j.Exception
		out["traceback"] = j.Traceback
	}
	return out
}

// MissingSnapshot is the sentinel projection for a job id that does not exist
// yet. Pollers that race job creation depend on this exact shape.
func MissingSnapshot() map[string]any {
	return map[string]any{
		"type":        nil,
		"started_by":  nil,
		"status":      Scheduled,
		"percentage":  0,
		"progress":    []ProgressEntry{},
		"id":          nil,
		"cancellable": false,
	}
}
