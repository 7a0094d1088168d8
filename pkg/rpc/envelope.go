package rpc

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Lang identifies this implementation in generated correlation IDs, matching
// the "{lang}" segment of "metricq-rpc-{lang}-{token}-{uuidHex}" (§4.2/§6).
const Lang = "go"

// NewCorrelationID generates a fresh RPC correlation ID for token. The
// trailing segment is plain hex (no dashes), matching uuid.uuid4().hex in
// original_source/python/metricq/agent.py.
func NewCorrelationID(token string) string {
	return "metricq-rpc-" + Lang + "-" + token + "-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// FunctionKey is the required top-level key that marks a delivery as an RPC
// request rather than a response (§4.2).
const FunctionKey = "function"

// ErrorKey is the top-level key an error reply carries its message under.
const ErrorKey = "error"

// EncodeRequest serialises function plus args into the RPC request body:
// {"function": "<tag>", ...args}.
func EncodeRequest(function string, args Args) ([]byte, error) {
	body := Args{}
	for k, v := range args {
		body[k] = v
	}
	body[FunctionKey] = function
	return json.Marshal(body)
}

// DecodeBody parses a raw delivery body into an Args map.
func DecodeBody(data []byte) (Args, error) {
	var body Args
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// IsRequest reports whether a decoded body is an RPC request (has a
// "function" key) as opposed to a response.
func IsRequest(body Args) bool {
	_, ok := body[FunctionKey]
	return ok
}

// Function extracts the "function" tag from a decoded request body.
func Function(body Args) (string, bool) {
	v, ok := body[FunctionKey]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// EncodeReply serialises a successful handler return into a reply body.
func EncodeReply(result Args) ([]byte, error) {
	if result == nil {
		result = Args{}
	}
	return json.Marshal(result)
}

// EncodeErrorReply serialises a handler error into {"error": "<message>"}.
func EncodeErrorReply(message string) []byte {
	data, _ := json.Marshal(Args{ErrorKey: message})
	return data
}

// ReplyError extracts an error message from a decoded response body, if
// present.
func ReplyError(body Args) (string, bool) {
	v, ok := body[ErrorKey]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
