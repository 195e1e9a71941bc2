package ir

// Status is a per-resource deployment status reported by the remote platform.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusAttached   Status = "ATTACHED"
	StatusDeleted    Status = "DELETED"
)

// DeploymentResult is the remote view of a stack.
type DeploymentResult struct {
	Message   string                    `json:"message"`
	Status    string                    `json:"status"`
	Resources map[string]ResourceStatus `json:"resources"`
}

// ResourceStatus is the remote state of one resource.
type ResourceStatus struct {
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Subject string `json:"subject,omitempty"`
	Type    string `json:"type,omitempty"`
}

// InProgress reports whether any resource is still being processed.
func (r *DeploymentResult) InProgress() bool {
	if r == nil {
		return false
	}
	for _, res := range r.Resources {
		if res.Status == StatusInProgress {
			return true
		}
	}
	return false
}

// Subject returns the subject of the given resource, or "".
func (r *DeploymentResult) Subject(key string) string {
	if r == nil {
		return ""
	}
	return r.Resources[key].Subject
}
