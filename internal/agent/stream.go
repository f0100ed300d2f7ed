package agent

import (
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Stream delivers generation output as incremental text fragments.
// Recv returns io.EOF once the backend finishes; Result then holds the full
// accumulated text.
type Stream struct {
	reader      *schema.StreamReader[*schema.Message]
	accumulated strings.Builder
}

func newStream(reader *schema.StreamReader[*schema.Message]) *Stream {
	return &Stream{reader: reader}
}

// Recv returns the next text fragment. Chunks that repeat already-seen
// content (providers differ on delta vs cumulative chunks) are reduced to
// the new suffix; empty fragments are skipped.
func (s *Stream) Recv() (string, error) {
	for {
		msg, err := s.reader.Recv()
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}

		delta := msg.Content
		if delta == "" {
			continue
		}

		acc := s.accumulated.String()
		if len(delta) > len(acc) && strings.HasPrefix(delta, acc) {
			delta = delta[len(acc):]
			s.accumulated.Reset()
			s.accumulated.WriteString(msg.Content)
		} else {
			s.accumulated.WriteString(delta)
		}

		return delta, nil
	}
}

// Result returns the full text accumulated so far.
func (s *Stream) Result() string {
	return s.accumulated.String()
}

// Close releases the underlying backend stream. Safe to call after EOF or
// when abandoning a partially-consumed stream.
func (s *Stream) Close() {
	s.reader.Close()
}
