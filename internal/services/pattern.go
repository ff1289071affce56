package services

import (
	"sync"

	"taixiu-backend/internal/models"
)

const (
	DefaultStreakMin      = 3
	DefaultAlternatingMin = 4
)

// PatternReport is the result of running every detector over the history.
type PatternReport struct {
	StreakLength int           `json:"streak_length"`
	StreakSide   models.Side   `json:"streak_side,omitempty"`
	Alternating  int           `json:"alternating"`
	ThreeTwoOne  bool          `json:"three_two_one"`
	OneTwoThree  bool          `json:"one_two_three"`
	TiltedRhythm bool          `json:"tilted_rhythm"`
	Recent       []models.Side `json:"recent"`
}

// PatternAnalyzer holds the rolling outcome history, oldest first. The
// session engine is the only writer.
type PatternAnalyzer struct {
	mu      sync.RWMutex
	history []models.Side
	limit   int
}

// NewPatternAnalyzer keeps at most limit entries; zero keeps everything.
func NewPatternAnalyzer(limit int) *PatternAnalyzer {
	return &PatternAnalyzer{limit: limit}
}

func (p *PatternAnalyzer) Append(side models.Side) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, side)
	if p.limit > 0 && len(p.history) > p.limit {
		p.history = append([]models.Side(nil), p.history[len(p.history)-p.limit:]...)
	}
}

func (p *PatternAnalyzer) SetHistory(history []models.Side) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && len(history) > p.limit {
		history = history[len(history)-p.limit:]
	}
	p.history = append([]models.Side(nil), history...)
}

func (p *PatternAnalyzer) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.history)
}

func (p *PatternAnalyzer) Streak(minLen int) (int, models.Side) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return streak(p.history, minLen)
}

func (p *PatternAnalyzer) Alternating(minLen int) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return alternating(p.history, minLen)
}

func (p *PatternAnalyzer) ThreeTwoOne() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return threeTwoOne(p.history)
}

func (p *PatternAnalyzer) OneTwoThree() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return oneTwoThree(p.history)
}

func (p *PatternAnalyzer) TiltedRhythm() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return tiltedRhythm(p.history)
}

// Analyze runs every detector against one consistent view of the history.
func (p *PatternAnalyzer) Analyze() PatternReport {
	p.mu.RLock()
	history := cloneTail(p.history, len(p.history))
	p.mu.RUnlock()

	return AnalyzeSides(history)
}

// AnalyzeSides runs every detector over an oldest-first sequence.
func AnalyzeSides(history []models.Side) PatternReport {
	length, side := streak(history, DefaultStreakMin)
	return PatternReport{
		StreakLength: length,
		StreakSide:   side,
		Alternating:  alternating(history, DefaultAlternatingMin),
		ThreeTwoOne:  threeTwoOne(history),
		OneTwoThree:  oneTwoThree(history),
		TiltedRhythm: tiltedRhythm(history),
		Recent:       cloneTail(history, 10),
	}
}

func streak(history []models.Side, minLen int) (int, models.Side) {
	if len(history) == 0 {
		return 0, ""
	}
	last := history[len(history)-1]
	count := 1
	for i := len(history) - 2; i >= 0 && history[i] == last; i-- {
		count++
	}
	if count >= minLen {
		return count, last
	}
	return 0, ""
}

func alternating(history []models.Side, minLen int) int {
	if len(history) < minLen || len(history) == 0 {
		return 0
	}
	count := 1
	for i := len(history) - 2; i >= 0 && history[i] != history[i+1]; i-- {
		count++
	}
	if count >= minLen {
		return count
	}
	return 0
}

// threeTwoOne matches [A,A,A,B,B,C] with A != B and C != B.
func threeTwoOne(history []models.Side) bool {
	if len(history) < 6 {
		return false
	}
	w := history[len(history)-6:]
	if w[0] != w[1] || w[1] != w[2] {
		return false
	}
	if w[3] != w[4] || w[3] == w[0] {
		return false
	}
	return w[5] != w[3]
}

// oneTwoThree matches exactly [A,B,B,A,A,A] with A != B.
func oneTwoThree(history []models.Side) bool {
	if len(history) < 6 {
		return false
	}
	w := history[len(history)-6:]
	a, b := w[0], w[1]
	if a == b {
		return false
	}
	return matchShape(w, []models.Side{a, b, b, a, a, a})
}

// tiltedRhythm matches exactly [A,A,B,A,B,B,A,A,B,B,B,A] with A != B.
func tiltedRhythm(history []models.Side) bool {
	if len(history) < 12 {
		return false
	}
	w := history[len(history)-12:]
	a, b := w[0], w[2]
	if a == b {
		return false
	}
	return matchShape(w, []models.Side{a, a, b, a, b, b, a, a, b, b, b, a})
}

func matchShape(window, shape []models.Side) bool {
	for i := range shape {
		if window[i] != shape[i] {
			return false
		}
	}
	return true
}

func cloneTail(history []models.Side, n int) []models.Side {
	if n > len(history) {
		n = len(history)
	}
	if n <= 0 {
		return []models.Side{}
	}
	return append([]models.Side(nil), history[len(history)-n:]...)
}
