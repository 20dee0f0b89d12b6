// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/webeonic/treegix-sub004/lib/codec"
	"github.com/webeonic/treegix-sub004/lib/ipmi"
)

// Code identifies a message type.
type Code uint32

const (
	CodeRegister       Code = 1
	CodeValueRequest   Code = 2
	CodeValueResult    Code = 3
	CodeCommandRequest Code = 4
	CodeCommandResult  Code = 5
	CodeCleanupRequest Code = 6
	CodeScriptRequest  Code = 7
	CodeScriptResult   Code = 8
)

func (c Code) String() string {
	switch c {
	case CodeRegister:
		return "register"
	case CodeValueRequest:
		return "value-request"
	case CodeValueResult:
		return "value-result"
	case CodeCommandRequest:
		return "command-request"
	case CodeCommandResult:
		return "command-result"
	case CodeCleanupRequest:
		return "cleanup-request"
	case CodeScriptRequest:
		return "script-request"
	case CodeScriptResult:
		return "script-result"
	default:
		return fmt.Sprintf("code(%d)", uint32(c))
	}
}

// Message is the unit written to and read from an IPC connection.
type Message struct {
	_       struct{} `cbor:",toarray"`
	Code    Code
	Payload []byte
}

// Register is sent by a poller right after connecting. ParentPID is the
// poller's parent process id; the manager accepts the poller only if it
// shares the manager's parent.
type Register struct {
	_         struct{} `cbor:",toarray"`
	ParentPID int64
}

// ValueRequest asks a poller to read one sensor.
type ValueRequest struct {
	_         struct{} `cbor:",toarray"`
	ObjectID  uint64
	Address   string
	Port      uint16
	AuthType  int8
	Privilege uint8
	Username  string
	Password  string
	Sensor    string
	Operation int32
}

// CommandRequest asks a poller to set a control. The connection fields
// are laid out exactly as in [ValueRequest]; Control and Value take the
// place of the sensor and operation.
type CommandRequest struct {
	_         struct{} `cbor:",toarray"`
	ObjectID  uint64
	Address   string
	Port      uint16
	AuthType  int8
	Privilege uint8
	Username  string
	Password  string
	Control   string
	Value     int32
}

// Result is the payload of ValueResult, CommandResult and ScriptResult.
// Value holds the reading on success and the error text otherwise.
type Result struct {
	_           struct{} `cbor:",toarray"`
	Seconds     int64
	Nanoseconds int32
	ErrorCode   ipmi.ErrorCode
	Value       string
}

// NewResult builds a Result stamped with ts.
func NewResult(ts time.Time, code ipmi.ErrorCode, value string) Result {
	return Result{
		Seconds:     ts.Unix(),
		Nanoseconds: int32(ts.Nanosecond()),
		ErrorCode:   code,
		Value:       value,
	}
}

// Time returns the result timestamp.
func (r Result) Time() time.Time {
	return time.Unix(r.Seconds, int64(r.Nanoseconds))
}

// ScriptRequest is a one-off control command submitted by a client for
// the host identified by HostID.
type ScriptRequest struct {
	_       struct{} `cbor:",toarray"`
	HostID  uint64
	Command CommandRequest
}

// DecodeError reports a payload that does not match the layout of its
// message code.
type DecodeError struct {
	Code Code
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s payload: %v", e.Code, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// payloadCodes maps each payload type to the message codes that carry it.
func payloadCodes(payload any) []Code {
	switch payload.(type) {
	case Register, *Register:
		return []Code{CodeRegister}
	case ValueRequest, *ValueRequest:
		return []Code{CodeValueRequest}
	case CommandRequest, *CommandRequest:
		return []Code{CodeCommandRequest}
	case Result, *Result:
		return []Code{CodeValueResult, CodeCommandResult, CodeScriptResult}
	case ScriptRequest, *ScriptRequest:
		return []Code{CodeScriptRequest}
	default:
		return nil
	}
}

// Encode builds a message with the given code and payload. A nil
// payload produces an empty message (CleanupRequest). Pairing a code
// with a payload type it does not carry is an error.
func Encode(code Code, payload any) (Message, error) {
	if payload == nil {
		if code != CodeCleanupRequest {
			return Message{}, fmt.Errorf("%s requires a payload", code)
		}
		return Message{Code: code}, nil
	}
	if !slices.Contains(payloadCodes(payload), code) {
		return Message{}, fmt.Errorf("payload %T cannot be sent as %s", payload, code)
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", code, err)
	}
	return Message{Code: code, Payload: data}, nil
}

// MustEncode is Encode for payloads built in code, where a failure is a
// programming error.
func MustEncode(code Code, payload any) Message {
	message, err := Encode(code, payload)
	if err != nil {
		panic("ipc: " + err.Error())
	}
	return message
}

// Decode decodes the payload of m into target, which must be a pointer
// to the payload type carried by m.Code.
func Decode(m Message, target any) error {
	if !slices.Contains(payloadCodes(target), m.Code) {
		return &DecodeError{Code: m.Code, Err: fmt.Errorf("unexpected payload type %T", target)}
	}
	if len(m.Payload) == 0 {
		return &DecodeError{Code: m.Code, Err: errors.New("empty payload")}
	}
	if err := codec.UnmarshalStrict(m.Payload, target); err != nil {
		return &DecodeError{Code: m.Code, Err: err}
	}
	return nil
}

// DecodeCleanup validates a CleanupRequest, which carries no payload.
func DecodeCleanup(m Message) error {
	if m.Code != CodeCleanupRequest {
		return &DecodeError{Code: m.Code, Err: errors.New("not a cleanup request")}
	}
	if len(m.Payload) != 0 {
		return &DecodeError{Code: m.Code, Err: fmt.Errorf("unexpected %d-byte payload", len(m.Payload))}
	}
	return nil
}

// Retag returns a copy of m carrying the same payload under a new code.
// The manager relays a poller's CommandResult to the script client as a
// ScriptResult this way, byte for byte.
func Retag(m Message, code Code) Message {
	return Message{Code: code, Payload: m.Payload}
}
