// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"srpc.256lights.llc/pkg/internal/jsonstring"
)

// An ID identifies a JSON-RPC request.
// IDs are either strings or unsigned 32-bit integers.
// The zero ID is absent:
// a request with an absent ID is a notification,
// and an absent ID serializes as JSON null
// (used only on error responses to requests whose id could not be recovered).
// IDs are comparable and can be used as map keys.
type ID struct {
	n   uint32
	s   string
	typ int8
}

const (
	idAbsent int8 = iota
	idNumber
	idString
)

// NumberID returns an ID for the given integer.
func NumberID(n uint32) ID {
	return ID{n: n, typ: idNumber}
}

// StringID returns an ID for the given string.
func StringID(s string) ID {
	return ID{s: s, typ: idString}
}

// IsZero reports whether the ID is absent.
func (id ID) IsZero() bool {
	return id.typ == idAbsent
}

// Number returns the ID's integer value.
// ok is true if and only if the ID is an integer.
func (id ID) Number() (_ uint32, ok bool) {
	return id.n, id.typ == idNumber
}

// String formats the ID for debugging.
func (id ID) String() string {
	switch id.typ {
	case idAbsent:
		return "null"
	case idNumber:
		return strconv.FormatUint(uint64(id.n), 10)
	case idString:
		return id.s
	default:
		return "<invalid request id>"
	}
}

// MarshalJSON implements [encoding/json.Marshaler].
// The zero ID marshals as null.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.typ {
	case idAbsent:
		return []byte("null"), nil
	case idNumber:
		return strconv.AppendUint(nil, uint64(id.n), 10), nil
	case idString:
		return jsonstring.Append(nil, id.s), nil
	default:
		return nil, fmt.Errorf("invalid request id type %d (internal error)", id.typ)
	}
}

// UnmarshalJSON implements [encoding/json.Unmarshaler].
// JSON null unmarshals to the zero ID.
func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty request id json")
	}
	switch {
	case string(data) == "null":
		*id = ID{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	default:
		n, err := strconv.ParseUint(string(data), 10, 32)
		if err != nil {
			return fmt.Errorf("request id must be a string or an unsigned 32-bit integer")
		}
		*id = NumberID(uint32(n))
		return nil
	}
}
