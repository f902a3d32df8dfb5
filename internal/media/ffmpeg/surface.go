package ffmpeg

import (
	"bufio"
	"bytes"
	"io"
	"sync"
)

const maxFrameBytes = 4 << 20

var (
	jpegStart = []byte{0xff, 0xd8}
	jpegEnd   = []byte{0xff, 0xd9}
)

// surface keeps the most recent JPEG from an MJPEG image2pipe stream.
type surface struct {
	mu     sync.RWMutex
	latest []byte
}

func newSurface(r io.Reader) *surface {
	s := &surface{}
	go s.consume(r)
	return s
}

func (s *surface) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxFrameBytes)
	scanner.Split(splitJPEG)
	for scanner.Scan() {
		frame := append([]byte(nil), scanner.Bytes()...)
		s.mu.Lock()
		s.latest = frame
		s.mu.Unlock()
	}
}

func (s *surface) Snapshot() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.latest) == 0 {
		return nil, false
	}
	return append([]byte(nil), s.latest...), true
}

// splitJPEG tokenizes concatenated JPEG images on SOI/EOI markers. Bytes
// before the first SOI are discarded.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegStart)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xff in case it begins a marker.
		if n := len(data); n > 0 && data[n-1] == 0xff {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	end := bytes.Index(data[start+len(jpegStart):], jpegEnd)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(jpegStart) + end + len(jpegEnd)
	return stop, data[start:stop], nil
}
