// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
)

// CommandID identifies a command carried in the first byte of a Command frame.
type CommandID uint8

// Command identifiers
const (
	CmdPing        CommandID = 0x01
	CmdSetRate     CommandID = 0x02
	CmdSetFields   CommandID = 0x03
	CmdSleep       CommandID = 0x04
	CmdMainOnline  CommandID = 0x05
	CmdWifiConnect CommandID = 0x06
	CmdStatus      CommandID = 0x07
	CmdVersion     CommandID = 0x08
	CmdReboot      CommandID = 0x09
	CmdDebug       CommandID = 0x0A
	CmdPoll        CommandID = 0x0B
	CmdSnapshot    CommandID = 0x0C
)

var commandNames = map[CommandID]string{
	CmdPing:        "ping",
	CmdSetRate:     "set_rate",
	CmdSetFields:   "set_fields",
	CmdSleep:       "sleep",
	CmdMainOnline:  "main_online",
	CmdWifiConnect: "wifi_connect",
	CmdStatus:      "status",
	CmdVersion:     "version",
	CmdReboot:      "reboot",
	CmdDebug:       "debug",
	CmdPoll:        "poll",
	CmdSnapshot:    "snapshot",
}

var commandsByName = func() map[string]CommandID {
	m := make(map[string]CommandID, len(commandNames))
	for id, name := range commandNames {
		m[name] = id
	}
	return m
}()

// CommandName returns the human-readable name of a command id
func CommandName(id CommandID) (string, bool) {
	name, ok := commandNames[id]
	return name, ok
}

// CommandByName looks up a command id by name. ok is false for names
// outside the vocabulary.
func CommandByName(name string) (CommandID, bool) {
	id, ok := commandsByName[name]
	return id, ok
}

// Commands returns every known command id in ascending order
func Commands() []CommandID {
	ids := make([]CommandID, 0, len(commandNames))
	for id := CmdPing; id <= CmdSnapshot; id++ {
		ids = append(ids, id)
	}
	return ids
}

// String returns the command name, or its hex value when unknown
func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(c))
}

// Status is the result code carried in a Response frame
type Status uint8

// Response status codes
const (
	StatusOK          Status = 0x00
	StatusError       Status = 0x01
	StatusUnsupported Status = 0x02
	StatusBusy        Status = 0x03
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusBusy:
		return "BUSY"
	default:
		return fmt.Sprintf("STATUS_0x%02X", uint8(s))
	}
}

// UnknownCommandError reports a command id outside the vocabulary.
type UnknownCommandError struct {
	ID uint8
}

// Error implements the error interface
func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command id 0x%02X", e.ID)
}

// ErrWrongFrameType is returned when a frame is parsed as a kind it is not.
var ErrWrongFrameType = errors.New("link: wrong frame type")

// Command is a decoded Command frame
type Command struct {
	Seq  uint8
	ID   CommandID
	Args map[int]interface{}
}

// Response is a decoded Response frame
type Response struct {
	Seq     uint8
	Command CommandID
	Status  Status
	ReplyTo uint8 // sequence number of the command being answered
	Body    map[int]interface{}
}

// Event is a decoded Event frame
type Event struct {
	Seq    uint8
	Code   EventCode
	Fields map[int]interface{}
}

// NewCommand creates a Command frame.
// Payload: command id, then an optional CBOR argument map.
func NewCommand(seq uint8, id CommandID, args map[int]interface{}) (*Frame, error) {
	encoded, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	payload := append([]byte{uint8(id)}, encoded...)
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: command %s is %d bytes", ErrPayloadTooLarge, id, len(payload))
	}
	return NewFrame(TypeCommand, seq, payload), nil
}

// ParseCommand decodes a Command frame. An id outside the vocabulary yields
// *UnknownCommandError together with the partially decoded command so the
// caller can still answer it.
func ParseCommand(f *Frame) (*Command, error) {
	if f.Type() != TypeCommand {
		return nil, fmt.Errorf("%w: %s", ErrWrongFrameType, f.Type())
	}
	if len(f.Payload()) == 0 {
		return nil, fmt.Errorf("empty command payload")
	}

	cmd := &Command{Seq: f.Seq(), ID: CommandID(f.Payload()[0])}
	args, err := ParseArgs(f.Payload()[1:])
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", cmd.ID, err)
	}
	cmd.Args = args

	if _, ok := commandNames[cmd.ID]; !ok {
		return cmd, &UnknownCommandError{ID: uint8(cmd.ID)}
	}
	return cmd, nil
}

// NewResponse creates a Response frame answering the command sent with
// sequence number replyTo.
// Payload: command id, status, replyTo, then an optional CBOR body map.
func NewResponse(seq uint8, id CommandID, status Status, replyTo uint8, body map[int]interface{}) (*Frame, error) {
	encoded, err := encodeArgs(body)
	if err != nil {
		return nil, err
	}
	payload := append([]byte{uint8(id), uint8(status), replyTo}, encoded...)
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: response to %s is %d bytes", ErrPayloadTooLarge, id, len(payload))
	}
	return NewFrame(TypeResponse, seq, payload), nil
}

// ParseResponse decodes a Response frame
func ParseResponse(f *Frame) (*Response, error) {
	if f.Type() != TypeResponse {
		return nil, fmt.Errorf("%w: %s", ErrWrongFrameType, f.Type())
	}
	p := f.Payload()
	if len(p) < 3 {
		return nil, fmt.Errorf("response payload too short: %d bytes", len(p))
	}
	body, err := ParseArgs(p[3:])
	if err != nil {
		return nil, fmt.Errorf("response body: %w", err)
	}
	return &Response{
		Seq:     f.Seq(),
		Command: CommandID(p[0]),
		Status:  Status(p[1]),
		ReplyTo: p[2],
		Body:    body,
	}, nil
}

// NewEvent creates an Event frame.
// Payload: event code, then an optional CBOR field map.
func NewEvent(seq uint8, code EventCode, fields map[int]interface{}) (*Frame, error) {
	encoded, err := encodeArgs(fields)
	if err != nil {
		return nil, err
	}
	payload := append([]byte{uint8(code)}, encoded...)
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: event %s is %d bytes", ErrPayloadTooLarge, code, len(payload))
	}
	return NewFrame(TypeEvent, seq, payload), nil
}

// ParseEvent decodes an Event frame
func ParseEvent(f *Frame) (*Event, error) {
	if f.Type() != TypeEvent {
		return nil, fmt.Errorf("%w: %s", ErrWrongFrameType, f.Type())
	}
	if len(f.Payload()) == 0 {
		return nil, fmt.Errorf("empty event payload")
	}
	fields, err := ParseArgs(f.Payload()[1:])
	if err != nil {
		return nil, fmt.Errorf("event fields: %w", err)
	}
	return &Event{Seq: f.Seq(), Code: EventCode(f.Payload()[0]), Fields: fields}, nil
}
