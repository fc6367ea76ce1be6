package audio

import (
	"sync"

	"github.com/ebitengine/oto/v3"
)

// captureBuffer collects PCM pushed from the malgo data callback and hands it
// to a blocking reader.
type captureBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	max    int
	closed bool
}

func newCaptureBuffer(max int) *captureBuffer {
	b := &captureBuffer{buf: make([]byte, 0, max), max: max}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *captureBuffer) push(samples []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.buf = append(b.buf, samples...)
	// Bound memory when nobody is reading: drop the oldest samples.
	if b.max > 0 && len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	b.cond.Signal()
}

// pop blocks until samples are available or the buffer is closed. Returns 0
// only after close.
func (b *captureBuffer) pop(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.buf) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.buf) == 0 {
		return 0
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n
}

func (b *captureBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.buf = nil
	b.cond.Broadcast()
	b.mu.Unlock()
}

// speakerWriter plays queued PCM through oto. The player is created lazily on
// the first write so an idle session never holds a playback stream.
type speakerWriter struct {
	otoCtx  *oto.Context
	player  *oto.Player
	buf     []byte
	mu      sync.Mutex
	cond    *sync.Cond
	playing bool
	closed  bool
}

func newSpeakerWriter(ctx *oto.Context) *speakerWriter {
	s := &speakerWriter{otoCtx: ctx}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *speakerWriter) Write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.buf = append(s.buf, data...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
}

// Read implements io.Reader for oto.Player; oto pulls audio for playback.
func (s *speakerWriter) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		// Feed silence so oto drains gracefully.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *speakerWriter) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
}

// Flush discards pending audio and stops the current player so the next
// utterance starts fresh.
func (s *speakerWriter) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	if s.player == nil || !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	player := s.player
	s.player = nil
	s.mu.Unlock()

	player.Pause()
	player.Reset()
	player.Close()
}
