// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package jsonrpc

import (
	"testing"
)

func TestIDMarshalJSON(t *testing.T) {
	tests := []struct {
		id   ID
		want string
	}{
		{ID{}, "null"},
		{NumberID(0), "0"},
		{NumberID(42), "42"},
		{NumberID(4294967295), "4294967295"},
		{StringID(""), `""`},
		{StringID("x"), `"x"`},
		{StringID(`a"b`), `"a\"b"`},
	}
	for _, test := range tests {
		got, err := test.id.MarshalJSON()
		if err != nil || string(got) != test.want {
			t.Errorf("ID(%v).MarshalJSON() = %s, %v; want %s, <nil>", test.id, got, err, test.want)
		}
	}
}

func TestIDUnmarshalJSON(t *testing.T) {
	tests := []struct {
		data    string
		want    ID
		wantErr bool
	}{
		{data: "null", want: ID{}},
		{data: "0", want: NumberID(0)},
		{data: "42", want: NumberID(42)},
		{data: "4294967295", want: NumberID(4294967295)},
		{data: `"x"`, want: StringID("x")},
		{data: `"42"`, want: StringID("42")},
		{data: "4294967296", wantErr: true},
		{data: "-1", wantErr: true},
		{data: "1.5", wantErr: true},
		{data: "true", wantErr: true},
		{data: "{}", wantErr: true},
		{data: "", wantErr: true},
	}
	for _, test := range tests {
		var got ID
		err := got.UnmarshalJSON([]byte(test.data))
		if test.wantErr {
			if err == nil {
				t.Errorf("ID.UnmarshalJSON(%q) = %v; want error", test.data, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ID.UnmarshalJSON(%q): %v", test.data, err)
			continue
		}
		if got != test.want {
			t.Errorf("ID.UnmarshalJSON(%q) = %v; want %v", test.data, got, test.want)
		}
	}
}

func TestIDMapKey(t *testing.T) {
	m := map[ID]string{
		NumberID(42):   "num",
		StringID("42"): "str",
	}
	if got := m[NumberID(42)]; got != "num" {
		t.Errorf("m[NumberID(42)] = %q; want %q", got, "num")
	}
	if got := m[StringID("42")]; got != "str" {
		t.Errorf(`m[StringID("42")] = %q; want %q`, got, "str")
	}
}
