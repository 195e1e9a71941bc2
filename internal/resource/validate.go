package resource

import (
	"fmt"
	"strings"
	"sync"

	"github.com/picklr-io/microstrate/internal/values"
)

// Validator inspects the properties of a resource and returns problems found.
type Validator func(props map[string]any) []string

var validatorsMu sync.RWMutex

// RegisterValidator adds a validator for every resource of the given kind.
func RegisterValidator(kind Kind, v Validator) error {
	validatorsMu.Lock()
	defer validatorsMu.Unlock()

	spec, ok := kinds[kind]
	if !ok {
		return fmt.Errorf("unknown resource kind: %s", kind)
	}
	spec.validators = append(spec.validators, v)
	return nil
}

func validatorsFor(kind Kind) []Validator {
	validatorsMu.RLock()
	defer validatorsMu.RUnlock()

	spec, ok := kinds[kind]
	if !ok {
		return nil
	}
	return append([]Validator(nil), spec.validators...)
}

// requireFields reports every dotted path that is missing or empty.
func requireFields(paths ...string) Validator {
	return func(props map[string]any) []string {
		var msgs []string
		for _, p := range paths {
			if values.IsEmpty(lookup(props, strings.Split(p, "."))) {
				msgs = append(msgs, fmt.Sprintf("property %q is required", p))
			}
		}
		return msgs
	}
}

func lookup(m map[string]any, path []string) any {
	var cur any = m
	for _, seg := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[seg]
	}
	return cur
}
