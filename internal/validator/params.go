package validator

import (
	"fmt"
	"math"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
)

// kind names a JSON type a parameter must have.
type kind string

const (
	kindString  kind = "string"
	kindNumber  kind = "number"
	kindPort    kind = "port"
	kindBoolean kind = "boolean"
	kindObject  kind = "object"
	kindUUID    kind = "uuid"
)

// rule is a single parameter requirement.
type rule struct {
	name string
	kind kind
}

func str(name string) rule     { return rule{name: name, kind: kindString} }
func port(name string) rule    { return rule{name: name, kind: kindPort} }
func boolean(name string) rule { return rule{name: name, kind: kindBoolean} }
func object(name string) rule  { return rule{name: name, kind: kindObject} }
func id(name string) rule      { return rule{name: name, kind: kindUUID} }

// check validates the params object of data against rules and stops at the
// first failure.
func check(data map[string]any, rules ...rule) Bag {
	raw, ok := data[FieldParams]
	if !ok {
		return Bag{FieldParams: "params attribute must be present"}
	}
	params, ok := raw.(map[string]any)
	if !ok {
		return Bag{FieldParams: "params attribute must be object"}
	}
	for _, r := range rules {
		value, ok := params[r.name]
		if !ok {
			return Bag{FieldParams: fmt.Sprintf("params %s attribute must be present", r.name)}
		}
		if !r.matches(value) {
			return Bag{FieldParams: fmt.Sprintf("params %s attribute must be %s", r.name, r.expected(value))}
		}
	}
	return nil
}

func (r rule) matches(value any) bool {
	switch r.kind {
	case kindString:
		_, ok := value.(string)
		return ok
	case kindNumber:
		_, ok := value.(float64)
		return ok
	case kindPort:
		n, ok := value.(float64)
		return ok && n == math.Trunc(n) && n >= 0 && n <= math.MaxUint16
	case kindBoolean:
		_, ok := value.(bool)
		return ok
	case kindObject:
		_, ok := value.(map[string]any)
		return ok
	case kindUUID:
		s, ok := value.(string)
		return ok && IsUUID(s)
	default:
		return false
	}
}

// expected names what value should have been. A port that is not even a
// number is reported as such.
func (r rule) expected(value any) kind {
	if r.kind == kindPort {
		if _, ok := value.(float64); !ok {
			return kindNumber
		}
	}
	return r.kind
}

// Params returns the params object of a request, or an empty object.
func Params(data map[string]any) map[string]any {
	if params, ok := data[FieldParams].(map[string]any); ok {
		return params
	}
	return map[string]any{}
}

// String reads a validated string parameter.
func String(params map[string]any, name string) string {
	value, _ := params[name].(string)
	return value
}

// Number reads a validated integral number parameter as an int.
func Number(params map[string]any, name string) int {
	value, _ := params[name].(float64)
	return int(value)
}

// Bool reads a validated boolean parameter.
func Bool(params map[string]any, name string) bool {
	value, _ := params[name].(bool)
	return value
}

// Object reads a validated object parameter.
func Object(params map[string]any, name string) map[string]any {
	value, _ := params[name].(map[string]any)
	return value
}

// ID reads a validated UUID parameter in canonical form.
func ID(params map[string]any, name string) string {
	value, _ := params[name].(string)
	if !IsUUID(value) {
		return value
	}
	return canonical(value)
}

func sessionOnly(ctx envelope.Context, r rule) []rule {
	if ctx == envelope.OnSession {
		return []rule{r}
	}
	return nil
}
