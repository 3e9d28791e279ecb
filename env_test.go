/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package sdbmigrate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvType_Parse(t *testing.T) {
	tests := []struct {
		typ     EnvType
		raw     string
		want    interface{}
		wantErr bool
	}{
		{typ: EnvTypeInt, raw: "42", want: int64(42)},
		{typ: EnvTypeInt, raw: "-7", want: int64(-7)},
		{typ: EnvTypeInt, raw: "4.2", wantErr: true},
		{typ: EnvTypeFloat, raw: "4.25", want: 4.25},
		{typ: EnvTypeFloat, raw: "1", want: 1.0},
		{typ: EnvTypeFloat, raw: "abc", wantErr: true},
		{typ: EnvTypeString, raw: "eu-west", want: "eu-west"},
		{typ: EnvType("list"), raw: "[]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+tt.raw, func(t *testing.T) {
			got, err := tt.typ.Parse(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEnvVar_TextAndDecoded(t *testing.T) {
	tests := []struct {
		name     string
		v        EnvVar
		wantText string
		want     interface{}
	}{
		{name: "int", v: EnvVar{Value: 1, Type: EnvTypeInt}, wantText: "1", want: int64(1)},
		{name: "int from json number", v: EnvVar{Value: float64(2), Type: EnvTypeInt}, wantText: "2", want: int64(2)},
		{name: "float", v: EnvVar{Value: 0.5, Type: EnvTypeFloat}, wantText: "0.5", want: 0.5},
		{name: "default type", v: EnvVar{Value: "eu"}, wantText: "eu", want: "eu"},
		{name: "number as string", v: EnvVar{Value: 10}, wantText: "10", want: "10"},
		{name: "bool as string", v: EnvVar{Value: true}, wantText: "true", want: "true"},
		{name: "nil", v: EnvVar{}, wantText: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantText, tt.v.Text())
			got, err := tt.v.Decoded()
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEnv_Keys(t *testing.T) {
	env := Env{"b": {Value: 1}, "a": {Value: 2}, "c": {Value: 3}}
	require.Equal(t, []string{"a", "b", "c"}, env.Keys())
}

func TestEnv_Validate(t *testing.T) {
	require.NoError(t, Env{"region-id": {Value: 1, Type: EnvTypeInt}, "Region Name": {Value: "eu"}}.Validate())

	for _, key := range []string{"", "a<b", "a>b", "<region>"} {
		err := Env{key: {Value: "eu"}}.Validate()
		require.ErrorIs(t, err, ErrInvalidEnv, "key %q", key)
	}
	require.ErrorIs(t, Env{"region": {Value: "eu", Type: "list"}}.Validate(), ErrInvalidEnv)
}
