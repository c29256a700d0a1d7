// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"srpc.256lights.llc/pkg/internal/jsonstring"
)

// A RequestSet is the parsed form of one framed payload
// on the receiving side of requests.
// Batch distinguishes a batched payload from a single request:
// the response to a batched payload is an array.
type RequestSet struct {
	Batch bool
	Items []RequestItem
}

// A RequestItem is one element of a [RequestSet].
// If Err is non-nil, the element violated the JSON-RPC schema
// and Err carries the error to report;
// ID is then the element's id if one could be recovered.
type RequestItem struct {
	ID  ID
	Req *Request
	Err error
}

// ParseRequestSet parses a framed payload into requests.
// A payload that is not syntactically valid JSON
// results in a [ParseError]-coded error.
// Schema violations are reported per element via [RequestItem].
func ParseRequestSet(data []byte) (*RequestSet, error) {
	elems, batch, err := splitPayload(data)
	if err != nil {
		return nil, err
	}
	set := &RequestSet{
		Batch: batch,
		Items: make([]RequestItem, 0, len(elems)),
	}
	for _, elem := range elems {
		item := parseRequestItem(elem, batch)
		if !batch {
			if code, ok := CodeFromError(item.Err); ok && code == ParseError {
				return nil, item.Err
			}
		}
		set.Items = append(set.Items, item)
	}
	return set, nil
}

func parseRequestItem(elem json.RawMessage, inBatch bool) RequestItem {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(elem, &raw); err != nil {
		if !inBatch {
			if _, ok := err.(*json.SyntaxError); ok {
				return RequestItem{Err: newParseError(err)}
			}
		}
		return RequestItem{Err: newInvalidRequest(fmt.Errorf("request must be an object"))}
	}

	// Recover the id before anything else
	// so that schema errors can mirror it.
	var item RequestItem
	if rawID, ok := raw["id"]; ok {
		if string(rawID) == "null" {
			item.Err = newInvalidRequest(fmt.Errorf("request id must not be null"))
			return item
		}
		if err := item.ID.UnmarshalJSON(rawID); err != nil {
			item.Err = newInvalidRequest(err)
			return item
		}
	}

	for k := range raw {
		switch k {
		case "jsonrpc", "method", "params", "id":
		default:
			item.Err = newInvalidRequest(fmt.Errorf("unknown field %q in request", k))
			return item
		}
	}
	if err := checkVersion(raw); err != nil {
		item.Err = err
		return item
	}
	req := &Request{ID: item.ID}
	if err := json.Unmarshal(raw["method"], &req.Method); err != nil {
		item.Err = newInvalidRequest(fmt.Errorf("jsonrpc method: %v", err))
		return item
	}
	req.Params = raw["params"]
	item.Req = req
	return item
}

// A ResponseSet is the parsed form of one framed payload
// on the receiving side of responses.
type ResponseSet struct {
	Batch bool
	Items []ResponseItem
}

// A ResponseItem is one element of a [ResponseSet].
// Exactly one of Response or Err is set;
// ID is the element's id if one could be recovered.
type ResponseItem struct {
	ID       ID
	Response *Response
	Err      error
}

// ParseResponseSet parses a framed payload into responses.
// A payload that is not syntactically valid JSON
// results in a [ParseError]-coded error.
func ParseResponseSet(data []byte) (*ResponseSet, error) {
	elems, batch, err := splitPayload(data)
	if err != nil {
		return nil, err
	}
	set := &ResponseSet{
		Batch: batch,
		Items: make([]ResponseItem, 0, len(elems)),
	}
	for _, elem := range elems {
		item := parseResponseItem(elem, batch)
		if !batch {
			if code, ok := CodeFromError(item.Err); ok && code == ParseError {
				return nil, item.Err
			}
		}
		set.Items = append(set.Items, item)
	}
	return set, nil
}

func parseResponseItem(elem json.RawMessage, inBatch bool) ResponseItem {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(elem, &raw); err != nil {
		if !inBatch {
			if _, ok := err.(*json.SyntaxError); ok {
				return ResponseItem{Err: newParseError(err)}
			}
		}
		return ResponseItem{Err: newInvalidRequest(fmt.Errorf("response must be an object"))}
	}

	var item ResponseItem
	if rawID, ok := raw["id"]; ok {
		if err := item.ID.UnmarshalJSON(rawID); err != nil {
			item.Err = newInvalidRequest(err)
			return item
		}
	} else {
		item.Err = newInvalidRequest(fmt.Errorf("jsonrpc response missing id"))
		return item
	}

	for k := range raw {
		switch k {
		case "jsonrpc", "result", "error", "id":
		default:
			item.Err = newInvalidRequest(fmt.Errorf("unknown field %q in response", k))
			return item
		}
	}
	if err := checkVersion(raw); err != nil {
		item.Err = err
		return item
	}

	resultField, errorField := raw["result"], raw["error"]
	switch {
	case len(resultField) > 0 && len(errorField) > 0:
		item.Err = newInvalidRequest(fmt.Errorf("jsonrpc response contains both result and error"))
	case len(errorField) > 0:
		var errorObject struct {
			Code    ErrorCode       `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(errorField, &errorObject); err != nil {
			item.Err = newInvalidRequest(fmt.Errorf("jsonrpc error object: %v", err))
			return item
		}
		item.Err = wireError(errorObject.Code, errorObject.Message, errorObject.Data)
	case len(resultField) > 0:
		item.Response = &Response{
			Result: resultField,
			ID:     item.ID,
		}
	default:
		item.Err = newInvalidRequest(fmt.Errorf("jsonrpc response contains neither result nor error"))
	}
	return item
}

// splitPayload splits a framed payload into its elements.
// A payload whose first non-whitespace byte is '[' is a batch;
// anything else is a single element returned as-is.
func splitPayload(data []byte) (elems []json.RawMessage, batch bool, err error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, false, newParseError(fmt.Errorf("empty message"))
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{json.RawMessage(data)}, false, nil
	}
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, true, newParseError(err)
	}
	return elems, true, nil
}

func checkVersion(raw map[string]json.RawMessage) error {
	version := raw["jsonrpc"]
	if len(version) == 0 {
		return newInvalidRequest(fmt.Errorf("jsonrpc version missing"))
	}
	var s string
	if err := json.Unmarshal(version, &s); err != nil {
		return newInvalidRequest(fmt.Errorf("jsonrpc version: %v", err))
	}
	if s != Version {
		return newInvalidRequest(fmt.Errorf("jsonrpc version %q not supported", s))
	}
	return nil
}

func newParseError(err error) error {
	return ErrorWithData(ParseError, err, jsonstring.Append(nil, err.Error()))
}

func newInvalidRequest(err error) error {
	return ErrorWithData(InvalidRequest, err, jsonstring.Append(nil, err.Error()))
}

// AppendRequest appends the wire encoding of a request to dst.
// It validates that the params are an object, an array, null, or absent.
func AppendRequest(dst []byte, req *Request) ([]byte, error) {
	if !isValidParamStruct(req.Params) {
		return dst, Error(InvalidRequest, fmt.Errorf("marshal json rpc %s: params must be an object or an array", req.Method))
	}
	dst = append(dst, `{"jsonrpc":"2.0","method":`...)
	dst = jsonstring.Append(dst, req.Method)
	if !req.ID.IsZero() {
		dst = append(dst, `,"id":`...)
		dst = appendID(dst, req.ID)
	}
	if len(req.Params) > 0 {
		dst = append(dst, `,"params":`...)
		dst = append(dst, req.Params...)
	}
	dst = append(dst, '}')
	return dst, nil
}

// AppendResponse appends the wire encoding of a successful response to dst.
// An empty result encodes as null.
func AppendResponse(dst []byte, id ID, result json.RawMessage) []byte {
	dst = append(dst, `{"jsonrpc":"2.0","id":`...)
	dst = appendID(dst, id)
	dst = append(dst, `,"result":`...)
	if len(result) == 0 {
		dst = append(dst, "null"...)
	} else {
		dst = append(dst, result...)
	}
	dst = append(dst, '}')
	return dst
}

// AppendErrorResponse appends the wire encoding of an error response to dst.
// The error's code (defaulting to [InternalError]) selects the canonical message;
// data attached with [ErrorWithData] is carried over.
// The zero id encodes as null.
func AppendErrorResponse(dst []byte, id ID, err error) []byte {
	code, ok := CodeFromError(err)
	if !ok {
		code = InternalError
	}
	dst = append(dst, `{"jsonrpc":"2.0","id":`...)
	dst = appendID(dst, id)
	dst = append(dst, `,"error":{"code":`...)
	dst = fmt.Appendf(dst, "%d", int32(code))
	dst = append(dst, `,"message":`...)
	dst = jsonstring.Append(dst, code.Message())
	if data, ok := DataFromError(err); ok {
		dst = append(dst, `,"data":`...)
		dst = append(dst, data...)
	}
	dst = append(dst, '}', '}')
	return dst
}

func appendID(dst []byte, id ID) []byte {
	idJSON, err := id.MarshalJSON()
	if err != nil {
		panic(err)
	}
	return append(dst, idJSON...)
}

func isValidParamStruct(msg json.RawMessage) bool {
	if len(msg) == 0 || string(msg) == "null" {
		// Omitted is fine.
		return true
	}
	return msg[0] == '{' && msg[len(msg)-1] == '}' ||
		msg[0] == '[' && msg[len(msg)-1] == ']'
}
