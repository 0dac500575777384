package instrument

import (
	"context"
	"log/slog"
	"strings"
)

const (
	relayLF     = "R1P1"
	relayHF     = "R1P2"
	relayDirect = "R1P4"
	relayTerm   = "R2P0"
	relayGTEM   = "R2P1"
	relayRest   = "R3P1R4P0" // RX TERM and RX LF input

	OutputTerm = "term"
	OutputGTEM = "gtem"

	defaultSwitchFrequency = 1e9
)

// GTEMSwitch routes the amplifier outputs to the GTEM cell or to the
// termination. Frequencies up to the crossover go through the LF path,
// higher ones through the HF path.
type GTEMSwitch struct {
	device

	output string
	swFreq float64
	lf     string
	hf     string
}

func newGTEMSwitch(d device) *GTEMSwitch {
	s := GTEMSwitch{device: d}

	s.output = OutputTerm
	if out := d.conf.InitValue.Output; out != "" {
		s.output = closestMatch(out, OutputTerm, OutputGTEM)
	}

	route := relayTerm
	if s.output == OutputGTEM {
		route = relayGTEM
	}
	s.lf = relayLF + route
	s.hf = relayHF + route

	s.swFreq = defaultSwitchFrequency
	if d.conf.InitValue.SwFreq > 0 {
		s.swFreq = d.conf.InitValue.SwFreq
	}

	return &s
}

// Output returns the selected output, OutputTerm or OutputGTEM
func (s *GTEMSwitch) Output() string {
	return s.output
}

func (s *GTEMSwitch) Init(ctx context.Context) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	s.logger.Info("switch initialised", slog.String("output", s.output), slog.Float64("swfreq", s.swFreq))
	return nil
}

func (s *GTEMSwitch) SetFreq(ctx context.Context, f float64) (float64, error) {
	cmd := s.hf + relayRest
	if f <= s.swFreq {
		cmd = s.lf + relayRest
	}

	if _, err := s.query(ctx, cmd); err != nil {
		return f, err
	}
	return f, nil
}

// Quit routes the switch direct into the termination before disconnecting
func (s *GTEMSwitch) Quit(ctx context.Context) error {
	_, err := s.query(ctx, relayDirect+relayTerm+relayRest)
	if cErr := s.close(); cErr != nil && err == nil {
		err = cErr
	}
	return err
}

// closestMatch returns the candidate with the smallest case-insensitive edit
// distance to s, the first one on a tie.
func closestMatch(s string, candidates ...string) string {
	s = strings.ToLower(s)

	best, bestDist := candidates[0], -1
	for _, c := range candidates {
		if d := editDistance(s, strings.ToLower(c)); bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
