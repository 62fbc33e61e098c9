// Package rpc implements the daemon's JSON-RPC protocol: frame types,
// error codes, and the method router that maps requests onto the pipeline
// registry.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/streamctl/streamd/internal/domain/pipeline"
	"github.com/streamctl/streamd/internal/engine"
)

// Version is the JSON-RPC version string carried on every frame.
const Version = "2.0"

// JSON-RPC 2.0 standard error codes, plus server-defined codes in the
// reserved -32000..-32099 range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodePipelineNotFound   = -32000
	CodeCreationFailed     = -32001
	CodeStateChangeFailed  = -32002
	CodeEngineError        = -32003
	CodeDescriptionTooLong = -32004
	CodeMediaNotSupported  = -32005
	CodeDuplicateID        = -32006
	CodeAmbiguousTarget    = -32007
)

// Request is an inbound JSON-RPC request frame.
type Request struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC response frame. Exactly one of Result
// and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo is the error member of a failed Response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Success builds a successful response, marshaling result.
func Success(id string, result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return Fail(id, CodeInternalError, "encode result: "+err.Error())
	}
	return Response{JSONRPC: Version, ID: id, Result: raw}
}

// Fail builds an error response.
func Fail(id string, code int, message string) Response {
	return Response{JSONRPC: Version, ID: id, Error: &ErrorInfo{Code: code, Message: message}}
}

func methodNotFound(id, method string) Response {
	return Fail(id, CodeMethodNotFound, "Method not found: "+method)
}

func invalidParams(id, message string) Response {
	return Fail(id, CodeInvalidParams, message)
}

func missingParam(id, field string) Response {
	return invalidParams(id, "missing required parameter: "+field)
}

// FromError maps a domain error onto the wire error taxonomy.
func FromError(id string, err error) Response {
	var (
		notFound    *pipeline.NotFoundError
		duplicate   *pipeline.DuplicateIDError
		rejected    *pipeline.RejectedError
		stateChange *pipeline.StateChangeError
		limit       *pipeline.LimitError
	)
	switch {
	case errors.As(err, &notFound):
		return Fail(id, CodePipelineNotFound, "Pipeline not found: "+notFound.ID)
	case errors.As(err, &duplicate):
		return Fail(id, CodeDuplicateID, err.Error())
	case errors.As(err, &rejected):
		if engine.IsUnsupportedMedia(rejected.Err) {
			return Fail(id, CodeMediaNotSupported, err.Error())
		}
		return Fail(id, CodeCreationFailed, err.Error())
	case errors.As(err, &stateChange):
		return Fail(id, CodeStateChangeFailed, err.Error())
	case errors.As(err, &limit):
		return Fail(id, CodeCreationFailed, err.Error())
	case errors.Is(err, pipeline.ErrAmbiguousTarget):
		return Fail(id, CodeAmbiguousTarget, err.Error())
	default:
		return Fail(id, CodeInternalError, err.Error())
	}
}

// EventFrame is an outbound unsolicited event frame; it carries no id and
// expects no response. The concrete payloads live in the events package.
type EventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
