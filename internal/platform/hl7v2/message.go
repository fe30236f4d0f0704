// Package hl7v2 implements the HL7 v2 (ER7) message handling used by the
// gateway: a permissive pipe-and-caret parser, acknowledgement construction,
// the inbound processor contract, and the HTTP surface for parsing and
// ingesting messages.
package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Message is a parsed HL7 v2 message with the commonly used MSH header
// fields promoted to struct fields.
type Message struct {
	Type         string    // MSH-9, e.g. "ORM^O01"
	ControlID    string    // MSH-10
	Version      string    // MSH-12
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Segments     []Segment
}

// Segment is a single ER7 segment (one CR-terminated line).
type Segment struct {
	Name   string // e.g. "MSH", "PID", "ORC", "OBR"
	Fields []Field
}

// Field is a pipe-delimited field with its caret-separated components.
type Field struct {
	Value      string
	Components []string
}

// Parse parses raw ER7 bytes into a Message. Segments may be separated by
// \r, \n, or \r\n. The first segment must be MSH.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", lines[0][:min(3, len(lines[0]))])
	}

	msg := &Message{}
	for _, line := range lines {
		seg, err := parseSegment(line)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: parse segment: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msg.promoteHeader()
	return msg, nil
}

// parseSegment splits a single segment line into name and fields. MSH is
// special: the field separator character is itself MSH-1, so the stored
// fields are [MSH-1, MSH-2, MSH-3, ...].
func parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	seg := Segment{}
	if strings.HasPrefix(line, "MSH") {
		seg.Name = "MSH"
		if len(line) < 4 {
			return seg, nil
		}
		sep := string(line[3])
		seg.Fields = append(seg.Fields, Field{Value: sep, Components: []string{sep}})
		for _, part := range strings.Split(line[4:], sep) {
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg, nil
	}

	parts := strings.SplitN(line, "|", 2)
	seg.Name = parts[0]
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], "|") {
			seg.Fields = append(seg.Fields, parseField(f))
		}
	}
	return seg, nil
}

func parseField(raw string) Field {
	return Field{Value: raw, Components: strings.Split(raw, "^")}
}

// promoteHeader copies the well-known MSH fields onto the Message.
func (m *Message) promoteHeader() {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return
	}

	m.SendingApp = msh.GetField(3)
	m.SendingFac = msh.GetField(4)
	m.ReceivingApp = msh.GetField(5)
	m.ReceivingFac = msh.GetField(6)
	m.Type = msh.GetField(9)
	m.ControlID = msh.GetField(10)
	m.Version = msh.GetField(12)

	if ts := msh.GetField(7); ts != "" {
		if t, err := parseTimestamp(ts); err == nil {
			m.Timestamp = t
		}
	}
}

// parseTimestamp parses an HL7 timestamp (YYYYMMDD[HHMM[SS]]), ignoring any
// fractional seconds or timezone suffix.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp %q", s)
	}
}

// GetSegment returns the first segment with the given name, or nil.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns all segments with the given name.
func (m *Message) GetSegments(name string) []Segment {
	var out []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			out = append(out, seg)
		}
	}
	return out
}

// GetField returns the value of a field by its 1-based HL7 index, or "" when
// the field is absent. For MSH, index 1 is the field separator itself.
func (s *Segment) GetField(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// GetComponent returns a component by 1-based field and component indices.
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	ci := compIdx - 1
	comps := s.Fields[idx].Components
	if ci < 0 || ci >= len(comps) {
		return ""
	}
	return comps[ci]
}

// PatientIdentifier returns PID-3.1, the first component of the patient
// identifier list.
func (m *Message) PatientIdentifier() string {
	pid := m.GetSegment("PID")
	if pid == nil {
		return ""
	}
	return pid.GetComponent(3, 1)
}

// PatientName returns the family and given name from PID-5 (family^given).
func (m *Message) PatientName() (family, given string) {
	pid := m.GetSegment("PID")
	if pid == nil {
		return "", ""
	}
	return pid.GetComponent(5, 1), pid.GetComponent(5, 2)
}

// DateOfBirth returns PID-7 as transmitted.
func (m *Message) DateOfBirth() string {
	pid := m.GetSegment("PID")
	if pid == nil {
		return ""
	}
	return pid.GetField(7)
}
