// Package parameters handles generic configuration Params, a map[string]string that the
// user (or a configuration file) sets for each component of a detector.
package parameters

import (
	"fmt"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/landmarks/internal/generics"
	"github.com/pkg/errors"
	"slices"
	"strconv"
	"strings"
)

// Params represent generic configuration parameters.
type Params map[string]string

// NewFromConfigString create params from user's configuration string, e.g.: "num_layers=2,activation=relu".
// See GetParamOr and PopParamOr to parse values from this map.
func NewFromConfigString(config string) Params {
	params := make(Params)
	if strings.TrimSpace(config) == "" {
		return params
	}
	for _, part := range strings.Split(config, ",") {
		subParts := strings.SplitN(part, "=", 2) // Split into up to 2 parts to handle '=' in values
		key := strings.TrimSpace(subParts[0])
		if len(subParts) == 1 {
			params[key] = ""
		} else {
			params[key] = strings.TrimSpace(subParts[1])
		}
	}
	return params
}

// FromMap converts decoded values (e.g. from a TOML table) to Params: every value is stringified.
// Lists are joined with ",".
func FromMap(values map[string]any) Params {
	params := make(Params, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case string:
			params[key] = v
		case []any:
			params[key] = strings.Join(generics.SliceMap(v, func(e any) string { return fmt.Sprint(e) }), ",")
		default:
			params[key] = fmt.Sprint(v)
		}
	}
	return params
}

// Clone returns a shallow copy of params, so it can be popped without affecting the original.
func (params Params) Clone() Params {
	clone := make(Params, len(params))
	for key, value := range params {
		clone[key] = value
	}
	return clone
}

// String implements fmt.Stringer, with keys sorted.
func (params Params) String() string {
	parts := make([]string, 0, len(params))
	for key, value := range generics.SortedKeysAndValues(params) {
		parts = append(parts, key+"="+value)
	}
	return strings.Join(parts, ",")
}

// PopParamOr is like GetParamOr, but it also deletes from the params map the retrieved parameter.
func PopParamOr[T interface {
	bool | int | float32 | float64 | string
}](params Params, key string, defaultValue T) (T, error) {
	value, err := GetParamOr(params, key, defaultValue)
	if err != nil {
		return value, err
	}
	delete(params, key)
	return value, nil
}

// GetParamOr attempts to parse a parameter to the given type if the key is present, or returns the defaultValue
// if not.
//
// For bool types, a key without a value is interpreted as true.
func GetParamOr[T interface {
	bool | int | float32 | float64 | string
}](params Params, key string, defaultValue T) (T, error) {
	vAny := (any)(defaultValue)
	var t T
	toT := func(v any) T { return v.(T) }
	switch vAny.(type) {
	case string:
		if value, exists := params[key]; exists {
			return toT(value), nil
		}
	case int:
		if value, exists := params[key]; exists && value != "" {
			parsedValue, err := strconv.Atoi(value)
			if err != nil {
				return t, errors.Wrapf(err, "failed to parse configuration %s=%q to int", key, value)
			}
			return toT(parsedValue), nil
		}
	case float32:
		if value, exists := params[key]; exists && value != "" {
			parsedValue, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return t, errors.Wrapf(err, "failed to parse configuration %s=%q to float", key, value)
			}
			return toT(float32(parsedValue)), nil
		}
	case float64:
		if value, exists := params[key]; exists && value != "" {
			parsedValue, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return t, errors.Wrapf(err, "failed to parse configuration %s=%q to float", key, value)
			}
			return toT(parsedValue), nil
		}
	case bool:
		if value, exists := params[key]; exists {
			if value == "" || strings.ToLower(value) == "true" || value == "1" { // Empty value is considered "true"
				return toT(true), nil
			}
			if strings.ToLower(value) == "false" || value == "0" {
				return toT(false), nil
			}
			return defaultValue, errors.Errorf("failed to parse configuration %s=%q to bool", key, value)
		}
	}
	return defaultValue, nil
}

// ToContext writes the defaults as hyperparameters of ctx (in its current scope), and then
// overwrites each of them with the value in params, if present, parsed to the type of the default.
//
// Consumed keys are popped from params. Any key left in params afterwards is reported as an error,
// since it doesn't correspond to any hyperparameter of the component.
func ToContext(name string, params Params, ctx *context.Context, defaults map[string]any) error {
	for key, defaultValue := range generics.SortedKeysAndValues(defaults) {
		var value any
		var err error
		switch v := defaultValue.(type) {
		case string:
			value, err = PopParamOr(params, key, v)
		case int:
			value, err = PopParamOr(params, key, v)
		case float64:
			value, err = PopParamOr(params, key, v)
		case float32:
			value, err = PopParamOr(params, key, v)
		case bool:
			value, err = PopParamOr(params, key, v)
		default:
			return errors.Errorf("%s parameter %q is of unknown type %T", name, key, defaultValue)
		}
		if err != nil {
			return errors.WithMessagef(err, "parsing %q (%T) for %s", key, defaultValue, name)
		}
		ctx.SetParam(key, value)
	}
	if len(params) > 0 {
		unknown := slices.Collect(generics.SortedKeys(params))
		return errors.Errorf("%s: unknown parameters %q", name, unknown)
	}
	return nil
}
