// Package dice parses NdS±M notation and rolls it server-side so clients
// cannot choose their own results.
package dice

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	mrand "math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const (
	MaxCount    = 100
	MinSides    = 2
	MaxSides    = 1000
	MaxModifier = 1000
)

var (
	ErrInvalidNotation = errors.New("invalid dice notation")
	ErrOutOfRange      = errors.New("dice notation out of range")
)

var notationRe = regexp.MustCompile(`^(\d*)[dD](\d+)(?:\s*([+-])\s*(\d+))?$`)

// Spec is a parsed roll: Count dice of Sides faces plus Modifier.
type Spec struct {
	Count    int
	Sides    int
	Modifier int
}

// String renders the canonical notation ("2d6+3", "1d20", "4d8-1").
func (s Spec) String() string {
	out := fmt.Sprintf("%dd%d", s.Count, s.Sides)
	switch {
	case s.Modifier > 0:
		out += fmt.Sprintf("+%d", s.Modifier)
	case s.Modifier < 0:
		out += fmt.Sprintf("%d", s.Modifier)
	}
	return out
}

// Parse reads notation such as "d20", "2d6+3" or "4D8 - 1".
func Parse(notation string) (Spec, error) {
	m := notationRe.FindStringSubmatch(strings.TrimSpace(notation))
	if m == nil {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
	}

	spec := Spec{Count: 1}
	var err error
	if m[1] != "" {
		if spec.Count, err = strconv.Atoi(m[1]); err != nil {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
		}
	}
	if spec.Sides, err = strconv.Atoi(m[2]); err != nil {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
	}
	if m[4] != "" {
		if spec.Modifier, err = strconv.Atoi(m[4]); err != nil {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
		}
		if m[3] == "-" {
			spec.Modifier = -spec.Modifier
		}
	}

	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Validate enforces the accepted ranges.
func (s Spec) Validate() error {
	switch {
	case s.Count < 1 || s.Count > MaxCount:
		return fmt.Errorf("%w: dice count must be 1-%d", ErrOutOfRange, MaxCount)
	case s.Sides < MinSides || s.Sides > MaxSides:
		return fmt.Errorf("%w: sides must be %d-%d", ErrOutOfRange, MinSides, MaxSides)
	case s.Modifier < -MaxModifier || s.Modifier > MaxModifier:
		return fmt.Errorf("%w: modifier must be within ±%d", ErrOutOfRange, MaxModifier)
	}
	return nil
}

// Result is the outcome of rolling a Spec.
type Result struct {
	Rolls    []int
	Modifier int
	Total    int
}

// Roller rolls specs with a shared random source.
type Roller struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewRoller seeds a roller from crypto/rand.
func NewRoller() *Roller {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(fmt.Sprintf("dice: seed: %v", err))
	}
	return NewSeededRoller(int64(binary.LittleEndian.Uint64(seed[:])))
}

// NewSeededRoller is deterministic for a given seed.
func NewSeededRoller(seed int64) *Roller {
	return &Roller{rng: mrand.New(mrand.NewSource(seed))}
}

func (r *Roller) Roll(spec Spec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rolls := make([]int, spec.Count)
	total := spec.Modifier
	for i := range rolls {
		rolls[i] = r.rng.Intn(spec.Sides) + 1
		total += rolls[i]
	}
	return Result{Rolls: rolls, Modifier: spec.Modifier, Total: total}, nil
}
