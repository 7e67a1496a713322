package llm

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"sync"
)

// lineDecoder turns one non-empty line of a streamed HTTP body into a chunk.
// done reports that the server signalled the end of the reply.
type lineDecoder func(line []byte) (chunk string, done bool, err error)

// lineStream reads newline-delimited events (Ollama NDJSON, OpenAI SSE).
type lineStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	decode lineDecoder
	done   bool
	once   sync.Once
}

func newLineStream(body io.ReadCloser, decode lineDecoder) *lineStream {
	return &lineStream{
		body:   body,
		reader: bufio.NewReader(body),
		decode: decode,
	}
}

func (s *lineStream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		line, readErr := s.reader.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			chunk, done, err := s.decode(line)
			if err != nil {
				s.done = true
				return "", err
			}
			if done {
				s.done = true
			}
			if chunk != "" {
				return chunk, nil
			}
		}
		if readErr != nil {
			s.done = true
			if readErr == io.EOF {
				return "", io.EOF
			}
			return "", readErr
		}
	}
}

func (s *lineStream) Close() error {
	var err error
	s.once.Do(func() {
		s.done = true
		err = s.body.Close()
	})
	return err
}

// seqStream adapts a push iterator of (text, error) pairs to the pull-based
// Stream contract.
type seqStream struct {
	next func() (string, error, bool)
	stop func()
	done bool
}

func newSeqStream(seq iter.Seq2[string, error]) *seqStream {
	next, stop := iter.Pull2(seq)
	return &seqStream{next: next, stop: stop}
}

func (s *seqStream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		chunk, err, ok := s.next()
		if !ok {
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			s.done = true
			s.stop()
			return "", err
		}
		if chunk != "" {
			return chunk, nil
		}
	}
}

func (s *seqStream) Close() error {
	s.done = true
	s.stop()
	return nil
}
