package executor

import (
	"fmt"
)

// New creates an executor of the given type.
func New(execType Type) (Executor, error) {
	switch execType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", execType)
	}
}

// ParseType parses an executor type string, defaulting to constant-vus
// when empty.
func ParseType(s string) (Type, error) {
	switch s {
	case "":
		return TypeConstantVUs, nil
	case string(TypeConstantVUs):
		return TypeConstantVUs, nil
	case string(TypeRampingVUs):
		return TypeRampingVUs, nil
	case string(TypeConstantArrivalRate):
		return TypeConstantArrivalRate, nil
	default:
		return "", fmt.Errorf("unknown executor type: %q", s)
	}
}
