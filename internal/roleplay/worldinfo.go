package roleplay

import (
	"log"
	"math/rand"
	"sort"
	"strings"
)

// Selective-logic modes for secondary key matching. A primary key must match
// in every mode; the mode governs the secondary key list.
const (
	LogicAndAny = "AND_ANY"
	LogicNotAll = "NOT_ALL"
	LogicNotAny = "NOT_ANY"
	LogicAndAll = "AND_ALL"
)

// Anchor positions for activated entry content.
const (
	PosBefore   = "before"
	PosAfter    = "after"
	PosANTop    = "an_top"
	PosANBottom = "an_bottom"
	PosEMTop    = "em_top"
	PosEMBottom = "em_bottom"
	PosAtDepth  = "at_depth"
)

// Scanner states. INITIAL scans the raw buffer; RECURSION rescans with
// activated content appended; MIN_ACTIVATIONS widens the scan window when
// nothing fired.
const (
	scanInitial = iota
	scanRecursion
	scanMinActivations
)

const (
	defaultScanDepth      = 4
	defaultRecursionSteps = 2
	// Activated world-info is capped at a quarter of the context window.
	budgetFraction = 4
)

// Entry is one world-info record.
type Entry struct {
	UID           string   `json:"uid"`
	Keys          []string `json:"keys"`
	SecondaryKeys []string `json:"secondary_keys,omitempty"`
	Logic         string   `json:"logic,omitempty"`
	Content       string   `json:"content"`
	Position      string   `json:"position,omitempty"`
	Depth         int      `json:"depth,omitempty"`
	Role          string   `json:"role,omitempty"`
	ScanDepth     int      `json:"scan_depth,omitempty"`
	Order         int      `json:"order,omitempty"`
	Probability   float64  `json:"probability,omitempty"`
	Constant      bool     `json:"constant,omitempty"`
	Enabled       bool     `json:"enabled"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`

	// Recursion controls.
	ExcludeRecursion    bool `json:"exclude_recursion,omitempty"`
	PreventRecursion    bool `json:"prevent_recursion,omitempty"`
	DelayUntilRecursion bool `json:"delay_until_recursion,omitempty"`

	// Timed effects, in turns.
	Sticky   int `json:"sticky,omitempty"`
	Cooldown int `json:"cooldown,omitempty"`
	Delay    int `json:"delay,omitempty"`
}

// Book is a named collection of entries with scan defaults.
type Book struct {
	Name           string  `json:"name"`
	Entries        []Entry `json:"entries"`
	ScanDepth      int     `json:"scan_depth,omitempty"`
	RecursionSteps int     `json:"recursion_steps,omitempty"`
	MinActivations int     `json:"min_activations,omitempty"`
}

// TimedEffects is the per-conversation carryover persisted in chat metadata.
// Values count down once per turn.
type TimedEffects struct {
	Sticky   map[string]int `json:"sticky,omitempty"`
	Cooldown map[string]int `json:"cooldown,omitempty"`
	Turn     int            `json:"turn"`
}

func NewTimedEffects() *TimedEffects {
	return &TimedEffects{Sticky: map[string]int{}, Cooldown: map[string]int{}}
}

// Tick advances one turn, decaying sticky and cooldown counters.
func (e *TimedEffects) Tick() {
	e.Turn++
	for k, v := range e.Sticky {
		if v <= 1 {
			delete(e.Sticky, k)
		} else {
			e.Sticky[k] = v - 1
		}
	}
	for k, v := range e.Cooldown {
		if v <= 1 {
			delete(e.Cooldown, k)
		} else {
			e.Cooldown[k] = v - 1
		}
	}
}

// Scanner evaluates world-info books against a message buffer.
type Scanner struct {
	Books  []Book
	Roll   func() float64 // [0,1); defaults to rand.Float64
	Logger *log.Logger
}

type candidate struct {
	book  *Book
	entry *Entry
	key   string
}

// Activation is one fired entry with its resolved anchor.
type Activation struct {
	Entry Entry
	Book  string
}

// Scan runs the activation loop over the newest messages and returns fired
// entries ordered by entry order. numCtx bounds the token budget; effects may
// be nil for stateless evaluation.
func (s *Scanner) Scan(history []string, effects *TimedEffects, numCtx int) []Activation {
	roll := s.Roll
	if roll == nil {
		roll = rand.Float64
	}
	if effects == nil {
		effects = NewTimedEffects()
	}

	var cands []candidate
	for i := range s.Books {
		b := &s.Books[i]
		for j := range b.Entries {
			e := &b.Entries[j]
			if !e.Enabled {
				continue
			}
			cands = append(cands, candidate{book: b, entry: e, key: b.Name + "#" + e.UID})
		}
	}

	fired := map[string]bool{}
	var out []Activation
	activate := func(c candidate) {
		fired[c.key] = true
		out = append(out, Activation{Entry: *c.entry, Book: c.book.Name})
		if c.entry.Sticky > 0 {
			if _, running := effects.Sticky[c.key]; !running {
				effects.Sticky[c.key] = c.entry.Sticky
			}
		}
		if c.entry.Cooldown > 0 && effects.Sticky[c.key] == 0 {
			effects.Cooldown[c.key] = c.entry.Cooldown
		}
	}

	state := scanInitial
	depthBoost := 0
	recursionBuf := ""
	steps := 0
	for {
		anyFired := false
		for _, c := range cands {
			e := c.entry
			if fired[c.key] {
				continue
			}
			if _, cooling := effects.Cooldown[c.key]; cooling {
				continue
			}
			if e.Delay > 0 && effects.Turn < e.Delay {
				continue
			}
			if _, stuck := effects.Sticky[c.key]; stuck {
				activate(c)
				anyFired = true
				continue
			}
			if e.Constant {
				activate(c)
				anyFired = true
				continue
			}
			if e.DelayUntilRecursion && state == scanInitial {
				continue
			}
			text := scanText(history, scanDepthFor(c), depthBoost)
			if state == scanRecursion && !e.ExcludeRecursion {
				text += "\n" + recursionBuf
			}
			if !matches(e, text) {
				continue
			}
			if e.Probability > 0 && e.Probability < 100 && roll()*100 >= e.Probability {
				continue
			}
			activate(c)
			anyFired = true
			if !e.PreventRecursion {
				recursionBuf += "\n" + e.Content
			}
		}

		switch {
		case anyFired && recursionBuf != "" && steps < recursionStepsFor(s.Books):
			state = scanRecursion
			steps++
		case len(out) == 0 && state != scanMinActivations && minActivationsFor(s.Books) > 0 && depthBoost < len(history):
			state = scanMinActivations
			depthBoost = len(history)
		default:
			return s.applyBudget(out, numCtx)
		}
	}
}

// applyBudget orders activations and drops those over the world-info share
// of the context window.
func (s *Scanner) applyBudget(acts []Activation, numCtx int) []Activation {
	sort.SliceStable(acts, func(i, j int) bool {
		return acts[i].Entry.Order < acts[j].Entry.Order
	})
	if numCtx <= 0 {
		return acts
	}
	budget := numCtx / budgetFraction
	used := 0
	kept := acts[:0]
	for _, a := range acts {
		cost := (len(a.Entry.Content) + 3) / 4
		if used+cost > budget {
			if s.Logger != nil {
				s.Logger.Printf("world-info budget reached, dropping entry %s from %s", a.Entry.UID, a.Book)
			}
			continue
		}
		used += cost
		kept = append(kept, a)
	}
	return kept
}

func scanDepthFor(c candidate) int {
	if c.entry.ScanDepth > 0 {
		return c.entry.ScanDepth
	}
	if c.book.ScanDepth > 0 {
		return c.book.ScanDepth
	}
	return defaultScanDepth
}

func recursionStepsFor(books []Book) int {
	max := 0
	for _, b := range books {
		if b.RecursionSteps > max {
			max = b.RecursionSteps
		}
	}
	if max == 0 {
		return defaultRecursionSteps
	}
	return max
}

func minActivationsFor(books []Book) int {
	max := 0
	for _, b := range books {
		if b.MinActivations > max {
			max = b.MinActivations
		}
	}
	return max
}

func scanText(history []string, depth, boost int) string {
	if boost > depth {
		depth = boost
	}
	if depth > len(history) {
		depth = len(history)
	}
	return strings.Join(history[len(history)-depth:], "\n")
}

// matches applies the primary keys then the selective-logic mode over the
// secondary keys.
func matches(e *Entry, text string) bool {
	if len(e.Keys) == 0 {
		return false
	}
	contains := func(key string) bool {
		if e.CaseSensitive {
			return strings.Contains(text, key)
		}
		return strings.Contains(strings.ToLower(text), strings.ToLower(key))
	}
	primary := false
	for _, k := range e.Keys {
		if contains(k) {
			primary = true
			break
		}
	}
	if !primary {
		return false
	}
	if len(e.SecondaryKeys) == 0 {
		return true
	}
	matched := 0
	for _, k := range e.SecondaryKeys {
		if contains(k) {
			matched++
		}
	}
	switch e.Logic {
	case LogicAndAll:
		return matched == len(e.SecondaryKeys)
	case LogicNotAny:
		return matched == 0
	case LogicNotAll:
		return matched < len(e.SecondaryKeys)
	default: // AND_ANY
		return matched > 0
	}
}
