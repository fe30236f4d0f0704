package hl7v2

import (
	"strings"
	"time"
)

// AckCode is the application acknowledgement code carried in MSA-1.
type AckCode string

const (
	// AckAccept means the message was accepted and durably handled.
	AckAccept AckCode = "AA"

	// AckError means the application failed to handle the message.
	AckError AckCode = "AE"
)

// CodeFor converts a processing outcome into an acknowledgement code.
func CodeFor(accepted bool) AckCode {
	if accepted {
		return AckAccept
	}
	return AckError
}

// fallbackAck is sent when the inbound MSH line is absent or unreadable.
// The peer always gets a syntactically valid acknowledgement back.
const fallbackAck = "MSH|^~\\&||||||ACK||P|2.3\rMSA|AE|\r"

// BuildAck constructs a two-segment MSH+MSA acknowledgement from the raw
// inbound message text. It reads header fields straight off the MSH line
// rather than requiring a successful parse, swaps the sending and receiving
// application/facility, and echoes the inbound control ID in both MSH-10
// and MSA-2. Every segment is terminated by \r.
//
// A message without a readable MSH line yields a minimal AE acknowledgement;
// BuildAck never fails.
func BuildAck(raw string, code AckCode) string {
	msh := findMSHLine(raw)
	if msh == "" {
		return fallbackAck
	}

	fields := strings.Split(msh, "|")
	sendingApp := fieldAt(fields, 2)
	sendingFac := fieldAt(fields, 3)
	receivingApp := fieldAt(fields, 4)
	receivingFac := fieldAt(fields, 5)
	controlID := fieldAt(fields, 9)

	ts := time.Now().Format("20060102150405")

	var b strings.Builder
	b.WriteString("MSH|^~\\&|")
	b.WriteString(receivingApp)
	b.WriteByte('|')
	b.WriteString(receivingFac)
	b.WriteByte('|')
	b.WriteString(sendingApp)
	b.WriteByte('|')
	b.WriteString(sendingFac)
	b.WriteByte('|')
	b.WriteString(ts)
	b.WriteString("||ACK|")
	b.WriteString(controlID)
	b.WriteString("|P|2.3\r")
	b.WriteString("MSA|")
	b.WriteString(string(code))
	b.WriteByte('|')
	b.WriteString(controlID)
	b.WriteByte('\r')
	return b.String()
}

// findMSHLine returns the first MSH segment line of an ER7 payload, or ""
// when none is present.
func findMSHLine(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\r")
	raw = strings.ReplaceAll(raw, "\n", "\r")
	for _, line := range strings.Split(raw, "\r") {
		if strings.HasPrefix(line, "MSH") {
			return line
		}
	}
	return ""
}

// fieldAt returns fields[i] or "" when the slice is too short. Indexing
// matches str.split on the raw MSH line: fields[0] is "MSH", fields[2] is
// MSH-3 (sending application), fields[9] is MSH-10 (control ID).
func fieldAt(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}
