package recognizer

import "fmt"

// Config carries the model-side parameters the server needs to agree on with
// its recognizer. Zero values are replaced by defaults in NewStub.
type Config struct {
	// SampleRate in Hz expected for incoming waveforms.
	SampleRate int
	// FrameShiftMs is the feature frame shift in milliseconds.
	FrameShiftMs int
	// ChunkFrames is the number of feature frames consumed per decode step.
	ChunkFrames int
}

const (
	defaultSampleRate   = 16000
	defaultFrameShiftMs = 10
	defaultChunkFrames  = 32
)

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.FrameShiftMs <= 0 {
		c.FrameShiftMs = defaultFrameShiftMs
	}
	if c.ChunkFrames <= 0 {
		c.ChunkFrames = defaultChunkFrames
	}
	return c
}

// Stub is a deterministic, dependency-free recognizer used when no real
// model backend is linked in, and by the test suite. It consumes frames in
// fixed chunks and emits one pseudo-token per chunk derived from the chunk's
// mean absolute amplitude.
type Stub struct {
	cfg             Config
	samplesPerFrame int
}

// pseudo-token vocabulary indexed by amplitude bucket
var stubTokens = [...]string{"uh", "da", "ba", "ka", "ma", "na", "pa", "ta"}

// NewStub returns a stub recognizer for the given config.
func NewStub(cfg Config) *Stub {
	cfg = cfg.withDefaults()
	return &Stub{
		cfg:             cfg,
		samplesPerFrame: cfg.SampleRate * cfg.FrameShiftMs / 1000,
	}
}

// SampleRate implements Recognizer.
func (r *Stub) SampleRate() int { return r.cfg.SampleRate }

// CreateStream implements Recognizer.
func (r *Stub) CreateStream() *Stream {
	return newStream(r.cfg.SampleRate, r.samplesPerFrame)
}

// IsReady implements Recognizer: a full chunk is buffered, or input is
// finished and a partial chunk remains.
func (r *Stub) IsReady(s *Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.numFramesReadyLocked() - s.decodedFrames
	if pending >= r.cfg.ChunkFrames {
		return true
	}
	return s.finished && pending > 0
}

// DecodeStream implements Recognizer. One step consumes up to ChunkFrames
// frames and appends one token to the stream's hypothesis.
func (r *Stub) DecodeStream(s *Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	avail := s.numFramesReadyLocked()
	pending := avail - s.decodedFrames
	if pending <= 0 {
		return nil
	}
	n := pending
	if n > r.cfg.ChunkFrames {
		n = r.cfg.ChunkFrames
	}

	lo := s.decodedFrames * s.samplesPerFrame
	hi := (s.decodedFrames + n) * s.samplesPerFrame
	if lo > len(s.samples) {
		lo = len(s.samples)
	}
	if hi > len(s.samples) {
		hi = len(s.samples)
	}
	var sum float64
	for _, v := range s.samples[lo:hi] {
		if v < 0 {
			sum -= float64(v)
		} else {
			sum += float64(v)
		}
	}
	var mean float64
	if hi > lo {
		mean = sum / float64(hi-lo)
	}
	bucket := int(mean * float64(len(stubTokens)))
	if bucket >= len(stubTokens) {
		bucket = len(stubTokens) - 1
	}
	if s.text != "" {
		s.text += " "
	}
	s.text += stubTokens[bucket]

	s.decodedFrames += n
	s.segment++
	return nil
}

// GetResult implements Recognizer.
func (r *Stub) GetResult(s *Stream) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	avail := s.numFramesReadyLocked()
	return Result{
		Text:          s.text,
		Segment:       s.segment,
		FramesDecoded: s.decodedFrames,
		IsFinal:       s.finished && s.decodedFrames >= avail,
	}
}

func (r *Stub) String() string {
	return fmt.Sprintf("stub(rate=%d, chunk=%d)", r.cfg.SampleRate, r.cfg.ChunkFrames)
}
