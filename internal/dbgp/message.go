// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dbgp

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Status is the execution state of a debugger engine, as reported in the status attribute of responses.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusBreak    Status = "break"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
)

// InitPacket is the first packet an engine sends after connecting to the IDE.
type InitPacket struct {
	XMLName         xml.Name `xml:"init"`
	AppID           string   `xml:"appid,attr"`
	IDEKey          string   `xml:"idekey,attr"`
	Session         string   `xml:"session,attr"`
	Thread          string   `xml:"thread,attr"`
	Parent          string   `xml:"parent,attr"`
	Language        string   `xml:"language,attr"`
	ProtocolVersion string   `xml:"protocol_version,attr"`
	FileURI         string   `xml:"fileuri,attr"`
}

// Response is the reply of the engine to a command.
// Only the fields relevant to the command that was sent are populated.
type Response struct {
	XMLName       xml.Name       `xml:"response"`
	Command       string         `xml:"command,attr"`
	TransactionID int            `xml:"transaction_id,attr"`
	Status        Status         `xml:"status,attr"`
	Reason        string         `xml:"reason,attr"`
	Success       string         `xml:"success,attr"`
	ID            string         `xml:"id,attr"`
	State         string         `xml:"state,attr"`
	Encoding      string         `xml:"encoding,attr"`
	Error         *ResponseError `xml:"error"`
	Message       *BreakMessage  `xml:"message"`
	Stack         []StackFrame   `xml:"stack"`
	Contexts      []ContextName  `xml:"context"`
	Properties    []Property     `xml:"property"`
	Breakpoints   []Breakpoint   `xml:"breakpoint"`
	Body          string         `xml:",chardata"`
}

// Err returns an *EngineError if the engine reported a failure, nil otherwise.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return &EngineError{
		Command: r.Command,
		Code:    r.Error.Code,
		Message: strings.TrimSpace(r.Error.Message),
	}
}

// Text returns the character data of the response, decoding it if it is base64-encoded.
// Used by the source command.
func (r *Response) Text() (string, error) {
	return decodeText(r.Body, r.Encoding)
}

type ResponseError struct {
	Code    int    `xml:"code,attr"`
	Message string `xml:"message"`
}

// BreakMessage carries the location and, for exceptions, the exception details of a break.
// Xdebug sends it as <xdebug:message>; the namespace is ignored when decoding.
type BreakMessage struct {
	Filename  string `xml:"filename,attr"`
	LineNo    int    `xml:"lineno,attr"`
	Exception string `xml:"exception,attr"`
	Code      string `xml:"code,attr"`
	Text      string `xml:",chardata"`
}

type StackFrame struct {
	Level    int    `xml:"level,attr"`
	Type     string `xml:"type,attr"`
	Filename string `xml:"filename,attr"`
	LineNo   int    `xml:"lineno,attr"`
	Where    string `xml:"where,attr"`
	CmdBegin string `xml:"cmdbegin,attr"`
}

// ContextName is one of the variable scopes (locals, superglobals, constants...) an engine exposes.
type ContextName struct {
	Name string `xml:"name,attr"`
	ID   int    `xml:"id,attr"`
}

// Property is a variable or expression value, possibly with nested child properties.
type Property struct {
	Name        string     `xml:"name,attr"`
	FullName    string     `xml:"fullname,attr"`
	Type        string     `xml:"type,attr"`
	ClassName   string     `xml:"classname,attr"`
	Facet       string     `xml:"facet,attr"`
	Children    int        `xml:"children,attr"`
	NumChildren int        `xml:"numchildren,attr"`
	Page        int        `xml:"page,attr"`
	PageSize    int        `xml:"pagesize,attr"`
	Size        int        `xml:"size,attr"`
	Encoding    string     `xml:"encoding,attr"`
	Properties  []Property `xml:"property"`
	Value       string     `xml:",chardata"`
}

// DecodedValue returns the scalar value of the property, decoding it if it is base64-encoded.
func (p *Property) DecodedValue() (string, error) {
	return decodeText(p.Value, p.Encoding)
}

func (p *Property) HasChildren() bool {
	return p.Children != 0 || p.NumChildren > 0
}

type Breakpoint struct {
	ID       string `xml:"id,attr"`
	Type     string `xml:"type,attr"`
	State    string `xml:"state,attr"`
	Filename string `xml:"filename,attr"`
	LineNo   int    `xml:"lineno,attr"`
	Resolved string `xml:"resolved,attr"`
	HitCount int    `xml:"hit_count,attr"`
}

// Stream carries program output copied to the IDE (see the stdout and stderr commands).
type Stream struct {
	XMLName  xml.Name `xml:"stream"`
	Type     string   `xml:"type,attr"`
	Encoding string   `xml:"encoding,attr"`
	Value    string   `xml:",chardata"`
}

func (s *Stream) Text() (string, error) {
	return decodeText(s.Value, s.Encoding)
}

// Notify is an asynchronous notification from the engine, e.g. breakpoint_resolved or error.
type Notify struct {
	XMLName    xml.Name      `xml:"notify"`
	Name       string        `xml:"name,attr"`
	Encoding   string        `xml:"encoding,attr"`
	Breakpoint *Breakpoint   `xml:"breakpoint"`
	Message    *BreakMessage `xml:"message"`
	Value      string        `xml:",chardata"`
}

func (n *Notify) Text() (string, error) {
	return decodeText(n.Value, n.Encoding)
}

// Packet is one message received from an engine. Exactly one of the fields is set.
type Packet struct {
	Init     *InitPacket
	Response *Response
	Stream   *Stream
	Notify   *Notify
}

// ParsePacket decodes the XML payload of a single engine packet.
func ParsePacket(data []byte) (*Packet, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	// Engines announce iso-8859-1 in the XML prolog but only send ASCII markup; payloads are base64.
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	for {
		token, tokenErr := decoder.Token()
		if tokenErr != nil {
			return nil, fmt.Errorf("%w: could not find the root element of the packet: %w", ErrProtocolViolation, tokenErr)
		}

		start, isStart := token.(xml.StartElement)
		if !isStart {
			continue
		}

		var packet Packet
		var target any
		switch start.Name.Local {
		case "init":
			packet.Init = &InitPacket{}
			target = packet.Init
		case "response":
			packet.Response = &Response{}
			target = packet.Response
		case "stream":
			packet.Stream = &Stream{}
			target = packet.Stream
		case "notify":
			packet.Notify = &Notify{}
			target = packet.Notify
		default:
			return nil, fmt.Errorf("%w: unexpected packet type '%s'", ErrProtocolViolation, start.Name.Local)
		}

		if decodeErr := decoder.DecodeElement(target, &start); decodeErr != nil {
			return nil, fmt.Errorf("%w: malformed '%s' packet: %w", ErrProtocolViolation, start.Name.Local, decodeErr)
		}
		return &packet, nil
	}
}

func decodeText(value, encoding string) (string, error) {
	switch encoding {
	case "", "none":
		return value, nil
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
		if err != nil {
			return "", fmt.Errorf("invalid base64 value: %w", err)
		}
		return string(decoded), nil
	default:
		return "", fmt.Errorf("unsupported value encoding '%s'", encoding)
	}
}
