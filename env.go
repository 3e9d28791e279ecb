/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package sdbmigrate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EnvType is a type tag of the environment variable. It's persisted as is in the env state table.
type EnvType string

// Supported environment variable types.
const (
	EnvTypeInt    EnvType = "int"
	EnvTypeString EnvType = "str"
	EnvTypeFloat  EnvType = "float"
)

// DefaultEnvType is used when the type of the environment variable is not specified in config.
const DefaultEnvType = EnvTypeString

var envParsers = map[EnvType]func(s string) (interface{}, error){
	EnvTypeInt: func(s string) (interface{}, error) {
		return strconv.ParseInt(s, 10, 64)
	},
	EnvTypeString: func(s string) (interface{}, error) {
		return s, nil
	},
	EnvTypeFloat: func(s string) (interface{}, error) {
		return strconv.ParseFloat(s, 64)
	},
}

// IsSupported reports whether the type tag is one of int, str or float.
func (t EnvType) IsSupported() bool {
	_, ok := envParsers[t]
	return ok
}

// Parse decodes the text representation of the value.
func (t EnvType) Parse(s string) (interface{}, error) {
	parse, ok := envParsers[t]
	if !ok {
		return nil, fmt.Errorf("unsupported env type %q", t)
	}
	v, err := parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q as %s: %w", s, t, err)
	}
	return v, nil
}

// EnvVar is a single frozen environment variable.
type EnvVar struct {
	Value interface{} `mapstructure:"value" yaml:"value" json:"value"`
	Type  EnvType     `mapstructure:"type" yaml:"type" json:"type"`
}

// TypeOrDefault returns the declared type or DefaultEnvType.
func (v EnvVar) TypeOrDefault() EnvType {
	if v.Type == "" {
		return DefaultEnvType
	}
	return v.Type
}

// Text returns the text encoding of the value that is persisted and substituted into SQL templates.
func (v EnvVar) Text() string {
	switch val := v.Value.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	}
	return fmt.Sprint(v.Value)
}

// Decoded returns the value decoded by its declared type.
func (v EnvVar) Decoded() (interface{}, error) {
	return v.TypeOrDefault().Parse(v.Text())
}

// Env is a set of named environment variables.
type Env map[string]EnvVar

// Keys returns sorted keys of the environment.
func (e Env) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks that every key is usable as a <key> placeholder and every variable
// has a supported type and a value decodable by it.
func (e Env) Validate() error {
	for _, key := range e.Keys() {
		if key == "" || strings.ContainsAny(key, "<>") {
			return fmt.Errorf("%w: key %q can't be used as a <key> placeholder", ErrInvalidEnv, key)
		}
		v := e[key]
		if !v.TypeOrDefault().IsSupported() {
			return fmt.Errorf("%w: unsupported type %q for key %q", ErrInvalidEnv, v.Type, key)
		}
		if _, err := v.Decoded(); err != nil {
			return fmt.Errorf("%w: invalid value for key %q: %v", ErrInvalidEnv, key, err)
		}
	}
	return nil
}
