package runner

import (
	"sort"
	"time"
)

// rateProfile is a sequence of load phases laid end to end, starting at
// zero elapsed time.
type rateProfile struct {
	phases []phase
	length time.Duration
	peak   float64
}

// phase moves the target rate linearly from begin to end over span.
type phase struct {
	offset time.Duration
	span   time.Duration
	begin  float64
	end    float64
}

func newRateProfile(patterns []LoadPattern) *rateProfile {
	prof := &rateProfile{}
	for _, p := range patterns {
		for _, ph := range phasesOf(p) {
			ph.offset = prof.length
			prof.phases = append(prof.phases, ph)
			prof.length += ph.span
			prof.peak = max(prof.peak, ph.begin, ph.end)
		}
	}
	if len(prof.phases) == 0 {
		return nil
	}
	return prof
}

// phasesOf expands one pattern. Phases without a positive duration are
// dropped.
func phasesOf(p LoadPattern) []phase {
	var out []phase
	add := func(span time.Duration, begin, end int) {
		if span > 0 {
			out = append(out, phase{span: span, begin: float64(begin), end: float64(end)})
		}
	}
	switch p.Type {
	case LoadPatternTypeRamp:
		add(p.Duration, p.FromRPS, p.ToRPS)
	case LoadPatternTypeStep:
		for _, s := range p.Steps {
			add(s.Duration, s.RPS, s.RPS)
		}
	case LoadPatternTypeSpike:
		add(p.Duration, p.RPS, p.RPS)
	}
	return out
}

// at returns the target rate at elapsed, or false once the profile has ended.
func (p *rateProfile) at(elapsed time.Duration) (float64, bool) {
	if p == nil {
		return 0, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	i := sort.Search(len(p.phases), func(i int) bool {
		return p.phases[i].offset+p.phases[i].span > elapsed
	})
	if i == len(p.phases) {
		return 0, false
	}
	ph := p.phases[i]
	if ph.begin == ph.end {
		return ph.begin, true
	}
	frac := float64(elapsed-ph.offset) / float64(ph.span)
	return ph.begin + (ph.end-ph.begin)*frac, true
}
