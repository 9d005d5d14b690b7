package p2p

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/labchain-go/node/internal/nodeerr"
)

// writeFrame writes payload preceded by its length as an ASCII decimal
// integer followed by a newline, the framing spec.md §4.10 mandates for
// every message.
func writeFrame(w io.Writer, payload []byte) error {
	if _, err := io.WriteString(w, strconv.Itoa(len(payload))+"\n"); err != nil {
		return fmt.Errorf("p2p: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("p2p: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("p2p: read frame header: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("p2p: malformed frame length %q: %w", strings.TrimSpace(line), nodeerr.ErrMalformedMessage)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("p2p: read frame body: %w", err)
	}
	return buf, nil
}
