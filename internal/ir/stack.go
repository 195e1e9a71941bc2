package ir

// StackRef identifies a deployed service on the remote platform.
type StackRef struct {
	Name  string `json:"name"`
	Stage string `json:"stage"`
}

// Stack is the unit submitted to the remote API.
type Stack struct {
	Name      string                     `json:"name"`
	Stage     string                     `json:"stage"`
	Resources map[string]ResourcePayload `json:"resources"`
}

// Ref returns the stack identity.
func (s *Stack) Ref() StackRef {
	return StackRef{Name: s.Name, Stage: s.Stage}
}

// Keys returns the resource keys carried by the stack.
func (s *Stack) Keys() []string {
	keys := make([]string, 0, len(s.Resources))
	for k := range s.Resources {
		keys = append(keys, k)
	}
	return keys
}

// ResourcePayload is the wire form of one resource.
type ResourcePayload struct {
	Type           string         `json:"type"`
	DeletionPolicy string         `json:"deletion_policy,omitempty"`
	Properties     map[string]any `json:"properties"`
}
