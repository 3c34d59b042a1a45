package roleplay

import (
	"testing"
)

func scanOnce(t *testing.T, entry Entry, history []string) bool {
	t.Helper()
	s := &Scanner{Books: []Book{{Name: "b", Entries: []Entry{entry}}}, Roll: func() float64 { return 0 }}
	acts := s.Scan(history, nil, 0)
	return len(acts) == 1
}

func TestLogicModes(t *testing.T) {
	history := []string{"we walked through the dark forest at night"}
	cases := []struct {
		name  string
		entry Entry
		want  bool
	}{
		{"and_any one secondary hit", Entry{Enabled: true, Keys: []string{"forest"}, SecondaryKeys: []string{"night", "rain"}, Logic: LogicAndAny}, true},
		{"and_any no secondary hit", Entry{Enabled: true, Keys: []string{"forest"}, SecondaryKeys: []string{"rain", "snow"}, Logic: LogicAndAny}, false},
		{"and_all all hit", Entry{Enabled: true, Keys: []string{"forest"}, SecondaryKeys: []string{"dark", "night"}, Logic: LogicAndAll}, true},
		{"and_all partial", Entry{Enabled: true, Keys: []string{"forest"}, SecondaryKeys: []string{"dark", "rain"}, Logic: LogicAndAll}, false},
		{"not_any clean", Entry{Enabled: true, Keys: []string{"forest"}, SecondaryKeys: []string{"rain", "snow"}, Logic: LogicNotAny}, true},
		{"not_any one hit", Entry{Enabled: true, Keys: []string{"forest"}, SecondaryKeys: []string{"night"}, Logic: LogicNotAny}, false},
		{"not_all partial", Entry{Enabled: true, Keys: []string{"forest"}, SecondaryKeys: []string{"night", "rain"}, Logic: LogicNotAll}, true},
		{"not_all all hit", Entry{Enabled: true, Keys: []string{"forest"}, SecondaryKeys: []string{"dark", "night"}, Logic: LogicNotAll}, false},
		{"no primary", Entry{Enabled: true, Keys: []string{"desert"}, Logic: LogicAndAny}, false},
		{"disabled", Entry{Enabled: false, Keys: []string{"forest"}}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := scanOnce(t, c.entry, history); got != c.want {
				t.Fatalf("activation = %v, want %v", got, c.want)
			}
		})
	}
}

func TestCaseInsensitiveByDefault(t *testing.T) {
	e := Entry{Enabled: true, Keys: []string{"FOREST"}}
	if !scanOnce(t, e, []string{"a walk in the forest"}) {
		t.Fatal("matching must be case-insensitive by default")
	}
	e.CaseSensitive = true
	if scanOnce(t, e, []string{"a walk in the forest"}) {
		t.Fatal("case-sensitive entry must not match a lowercase buffer")
	}
}

func TestConstantEntryAlwaysFires(t *testing.T) {
	e := Entry{UID: "c", Enabled: true, Constant: true, Content: "lore"}
	if !scanOnce(t, e, []string{"nothing relevant"}) {
		t.Fatal("constant entries fire regardless of keys")
	}
}

func TestRecursionActivatesChainedEntry(t *testing.T) {
	s := &Scanner{Books: []Book{{Name: "b", RecursionSteps: 2, Entries: []Entry{
		{UID: "1", Enabled: true, Keys: []string{"castle"}, Content: "The castle is ruled by the Iron Queen."},
		{UID: "2", Enabled: true, Keys: []string{"Iron Queen"}, Content: "The Iron Queen hates bards."},
	}}}}
	acts := s.Scan([]string{"tell me about the castle"}, nil, 0)
	if len(acts) != 2 {
		t.Fatalf("recursion must activate the chained entry, got %d activations", len(acts))
	}
}

func TestDelayUntilRecursionSkipsInitialPass(t *testing.T) {
	s := &Scanner{Books: []Book{{Name: "b", Entries: []Entry{
		{UID: "1", Enabled: true, DelayUntilRecursion: true, Keys: []string{"castle"}, Content: "hidden"},
	}}}}
	if acts := s.Scan([]string{"the castle gate"}, nil, 0); len(acts) != 0 {
		t.Fatalf("delay-until-recursion entries must not fire on the initial pass, got %d", len(acts))
	}
}

func TestStickyCarriesAcrossTurns(t *testing.T) {
	book := Book{Name: "b", Entries: []Entry{
		{UID: "s", Enabled: true, Keys: []string{"dragon"}, Content: "dragon lore", Sticky: 2},
	}}
	s := &Scanner{Books: []Book{book}}
	fx := NewTimedEffects()

	if acts := s.Scan([]string{"a dragon appears"}, fx, 0); len(acts) != 1 {
		t.Fatal("entry must fire on key match")
	}
	if fx.Sticky["b#s"] != 2 {
		t.Fatalf("sticky counter must be recorded, got %v", fx.Sticky)
	}

	fx.Tick()
	if acts := s.Scan([]string{"unrelated chatter"}, fx, 0); len(acts) != 1 {
		t.Fatal("sticky entry must keep firing without a key match")
	}

	fx.Tick()
	if _, ok := fx.Sticky["b#s"]; ok {
		t.Fatal("sticky must expire after its window")
	}
}

func TestCooldownSuppressesReactivation(t *testing.T) {
	book := Book{Name: "b", Entries: []Entry{
		{UID: "c", Enabled: true, Keys: []string{"storm"}, Content: "storm lore", Cooldown: 2},
	}}
	s := &Scanner{Books: []Book{book}}
	fx := NewTimedEffects()

	if acts := s.Scan([]string{"a storm rolls in"}, fx, 0); len(acts) != 1 {
		t.Fatal("entry must fire first")
	}
	fx.Tick()
	if acts := s.Scan([]string{"the storm continues"}, fx, 0); len(acts) != 0 {
		t.Fatal("cooldown must suppress reactivation")
	}
}

func TestDelayRequiresEnoughTurns(t *testing.T) {
	book := Book{Name: "b", Entries: []Entry{
		{UID: "d", Enabled: true, Keys: []string{"inn"}, Content: "inn lore", Delay: 3},
	}}
	s := &Scanner{Books: []Book{book}}
	fx := NewTimedEffects()
	if acts := s.Scan([]string{"we reach the inn"}, fx, 0); len(acts) != 0 {
		t.Fatal("delayed entry must wait for enough turns")
	}
	fx.Turn = 3
	if acts := s.Scan([]string{"we reach the inn"}, fx, 0); len(acts) != 1 {
		t.Fatal("delayed entry must fire once the turn threshold passes")
	}
}

func TestBudgetDropsOverflow(t *testing.T) {
	long := make([]byte, 4000)
	for i := range long {
		long[i] = 'x'
	}
	book := Book{Name: "b", Entries: []Entry{
		{UID: "1", Enabled: true, Constant: true, Order: 1, Content: string(long)},
		{UID: "2", Enabled: true, Constant: true, Order: 2, Content: string(long)},
	}}
	s := &Scanner{Books: []Book{book}}
	// Budget is numCtx/4 tokens = 1024 tokens = one 4000-char entry.
	acts := s.Scan([]string{"hi"}, nil, 4096)
	if len(acts) != 1 || acts[0].Entry.UID != "1" {
		t.Fatalf("budget must keep lower-order entries first, got %d activations", len(acts))
	}
}

func TestMinActivationsWidensScan(t *testing.T) {
	book := Book{Name: "b", ScanDepth: 1, MinActivations: 1, Entries: []Entry{
		{UID: "m", Enabled: true, Keys: []string{"prophecy"}, Content: "prophecy lore"},
	}}
	s := &Scanner{Books: []Book{book}}
	history := []string{"the prophecy was spoken", "later idle chat", "more idle chat"}
	if acts := s.Scan(history, nil, 0); len(acts) != 1 {
		t.Fatal("min-activations must widen the scan window to older messages")
	}
}

func TestProbabilityGate(t *testing.T) {
	e := Entry{UID: "p", Enabled: true, Keys: []string{"coin"}, Probability: 50, Content: "coin lore"}
	s := &Scanner{Books: []Book{{Name: "b", Entries: []Entry{e}}}, Roll: func() float64 { return 0.9 }}
	if acts := s.Scan([]string{"flip a coin"}, nil, 0); len(acts) != 0 {
		t.Fatal("a failed roll must suppress the entry")
	}
	s.Roll = func() float64 { return 0.1 }
	if acts := s.Scan([]string{"flip a coin"}, nil, 0); len(acts) != 1 {
		t.Fatal("a passing roll must activate the entry")
	}
}

func TestRegexScriptApply(t *testing.T) {
	script := RegexScript{Enabled: true, Find: `\bmage\b`, Replace: "wizard", TrimStrings: []string{"~"}}
	got := script.Apply("the ~mage~ waved")
	if got != "the wizard waved" {
		t.Fatalf("regex apply mismatch: %q", got)
	}
}
