package serial

import "log"

// Recorder receives every chunk a Tee hands to its reader.
type Recorder interface {
	WriteChunk(p []byte) error
}

// Tee mirrors bytes read from a source into a Recorder, for capturing
// sensor sessions to replay later. Recorder failures are logged once and
// recording stops; reads are unaffected.
type Tee struct {
	src    Source
	rec    Recorder
	failed bool
}

func NewTee(src Source, rec Recorder) *Tee {
	return &Tee{src: src, rec: rec}
}

func (t *Tee) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 && t.rec != nil && !t.failed {
		if rerr := t.rec.WriteChunk(p[:n]); rerr != nil {
			log.Printf("serial: recording stopped: %v", rerr)
			t.failed = true
		}
	}
	return n, err
}

func (t *Tee) Buffered() (int, error) { return t.src.Buffered() }
