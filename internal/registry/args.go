package registry

import (
	"errors"
	"fmt"

	"github.com/spf13/cast"
)

var ErrInvalidArgs = errors.New("invalid task arguments")

type Kind int

const (
	Any Kind = iota
	String
	Int
	Float
	Bool
	List
	Map
)

// Param declares one argument a task accepts. Positional arguments bind to
// params in declaration order.
type Param struct {
	Name     string
	Kind     Kind
	Required bool
	Default  any
}

func Required(name string, k Kind) Param { return Param{Name: name, Kind: k, Required: true} }

func Optional(name string, k Kind, def any) Param { return Param{Name: name, Kind: k, Default: def} }

// Args is the decoded, validated argument set handed to a handler.
type Args struct {
	values     map[string]any
	positional []any
}

// NewArgs builds Args directly from named values, without validation.
func NewArgs(values map[string]any) Args {
	if values == nil {
		values = map[string]any{}
	}
	return Args{values: values}
}

// Bind merges positional and keyword arguments against params. With no params
// declared, kwargs are passed through untouched.
func Bind(params []Param, positional []any, kwargs map[string]any) (Args, error) {
	a := Args{values: make(map[string]any, len(params)), positional: positional}
	if len(params) == 0 {
		for k, v := range kwargs {
			a.values[k] = v
		}
		return a, nil
	}
	if len(positional) > len(params) {
		return Args{}, fmt.Errorf("%w: got %d positional arguments, accepts %d", ErrInvalidArgs, len(positional), len(params))
	}

	raw := make(map[string]any, len(params))
	for i, v := range positional {
		raw[params[i].Name] = v
	}
	known := make(map[string]struct{}, len(params))
	for _, p := range params {
		known[p.Name] = struct{}{}
	}
	for k, v := range kwargs {
		if _, ok := known[k]; !ok {
			return Args{}, fmt.Errorf("%w: unexpected argument %q", ErrInvalidArgs, k)
		}
		raw[k] = v
	}

	for _, p := range params {
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Required {
				return Args{}, fmt.Errorf("%w: missing required argument %q", ErrInvalidArgs, p.Name)
			}
			a.values[p.Name] = p.Default
			continue
		}
		cv, err := coerce(p.Kind, v)
		if err != nil {
			return Args{}, fmt.Errorf("%w: %s: %v", ErrInvalidArgs, p.Name, err)
		}
		a.values[p.Name] = cv
	}
	return a, nil
}

func coerce(k Kind, v any) (any, error) {
	switch k {
	case String:
		return cast.ToStringE(v)
	case Int:
		return cast.ToInt64E(v)
	case Float:
		return cast.ToFloat64E(v)
	case Bool:
		return cast.ToBoolE(v)
	case List:
		return cast.ToSliceE(v)
	case Map:
		return cast.ToStringMapE(v)
	default:
		return v, nil
	}
}

func (a Args) Has(name string) bool { return a.values[name] != nil }

func (a Args) Value(name string) any { return a.values[name] }

func (a Args) String(name string) string { return cast.ToString(a.values[name]) }

func (a Args) Int(name string) int { return cast.ToInt(a.values[name]) }

func (a Args) Float(name string) float64 { return cast.ToFloat64(a.values[name]) }

func (a Args) Bool(name string) bool { return cast.ToBool(a.values[name]) }

func (a Args) Slice(name string) []any { return cast.ToSlice(a.values[name]) }

func (a Args) StringSlice(name string) []string { return cast.ToStringSlice(a.values[name]) }

func (a Args) Map(name string) map[string]any {
	m := cast.ToStringMap(a.values[name])
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Positional returns the raw positional arguments as received.
func (a Args) Positional() []any { return a.positional }
