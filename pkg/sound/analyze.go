package sound

import (
	"math"
	"time"
)

// analysisWindow is the number of frames averaged per Analyze call.
const analysisWindow = 1024

// Analyze returns the loudness of s around now for lip sync, in [0, 1]
// rounded to one decimal. Sounds that are not playing return 0.
func (m *Manager) Analyze(s *Sound, now time.Time) float64 {
	if s == nil {
		return 0
	}

	s.mu.Lock()
	if s.state != StatePlaying || s.buf == nil {
		s.mu.Unlock()
		return 0
	}
	buf := s.buf
	pos := s.format.SampleRate.N(now.Sub(s.started))
	s.mu.Unlock()

	if pos < 0 || pos >= buf.Len() {
		return 0
	}
	end := pos + analysisWindow
	if end > buf.Len() {
		end = buf.Len()
	}

	samples := make([][2]float64, end-pos)
	n, _ := buf.Streamer(pos, end).Stream(samples)
	if n == 0 {
		return 0
	}

	var sum float64
	for _, frame := range samples[:n] {
		mono := (frame[0] + frame[1]) / 2
		sum += mono * mono
	}
	rms := math.Sqrt(sum / float64(n) * 20)
	return math.Round(clamp(rms, 0, 1)*10) / 10
}

// clamp restricts a value to a range.
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
