package engine

import "strings"

// Subject is a parsed remote resource subject, e.g.
// "ms.compute.<namespace>.collection" or "ms.compute.<namespace>.<service>.<name>".
type Subject struct {
	Namespace string
	Service   string
}

// ParseSubject splits a subject on dots. It fails for subjects with fewer than three segments.
func ParseSubject(s string) (Subject, bool) {
	parts := strings.Split(s, ".")
	if len(parts) < 3 {
		return Subject{}, false
	}

	sub := Subject{Namespace: parts[2]}
	if len(parts) > 4 {
		sub.Service = parts[3]
	}
	return sub, true
}
