package mllp

import (
	"fmt"
	"net"
	"time"
)

// SampleORM is a well-formed ORM^O01 order message, kept around for the
// send subcommand and as a smoke-test payload.
const SampleORM = "MSH|^~\\&|SENDER|SENDER_FAC|RECEIVER|RECEIVER_FAC|20251105||ORM^O01|MSG00001|P|2.3\r" +
	"PID|1||12345^^^MRN||Doe^John||19800101|M|||123 Main St^^Metropolis^NY^10001||555-0100\r" +
	"ORC|NW|ORD0001||||\r" +
	"OBR|1|ORD0001||CBC^Complete Blood Count^L|||20251105\r"

// Send opens a TCP connection to addr, writes the message framed per MLLP,
// and waits for a complete framed acknowledgement, which it returns
// unframed. timeout bounds the dial and the whole exchange.
func Send(addr, message string, timeout time.Duration) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return "", fmt.Errorf("mllp: dial %s: %w", addr, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(Frame([]byte(message))); err != nil {
		return "", fmt.Errorf("mllp: write: %w", err)
	}

	// The ACK may arrive across several reads; accumulate until one
	// complete frame shows up.
	dec := NewDecoder(0)
	buf := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if perr := dec.Push(buf[:n]); perr != nil {
				return "", perr
			}
			if payload, ok := dec.Next(); ok {
				return DecodeText(payload), nil
			}
		}
		if err != nil {
			return "", fmt.Errorf("mllp: read ack: %w", err)
		}
	}
}
