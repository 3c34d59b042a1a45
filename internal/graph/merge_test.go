package graph

import (
	"reflect"
	"testing"
)

func TestMergeNoOldPlan(t *testing.T) {
	proposed := &Plan{Steps: []Step{{Title: "a", Description: "first"}}}
	if got := MergePlans(nil, proposed); got != proposed {
		t.Fatalf("merge with no prior plan must return the proposal")
	}
}

func TestMergeKeepsCompletedStepsInOrder(t *testing.T) {
	old := &Plan{Steps: []Step{
		{Title: "one", Description: "d1", ExecutionRes: "done 1"},
		{Title: "two", Description: "d2"},
		{Title: "three", Description: "d3", ExecutionRes: "done 3"},
	}}
	proposed := &Plan{Steps: []Step{
		{Title: "four", Description: "d4"},
		{Title: "two", Description: "d2"},
	}}
	merged := MergePlans(old, proposed)
	if merged.Steps[0].Title != "one" || merged.Steps[1].Title != "three" {
		t.Fatalf("completed old steps must lead in original order, got %+v", merged.Steps)
	}
	if merged.Steps[0].ExecutionRes != "done 1" || merged.Steps[1].ExecutionRes != "done 3" {
		t.Fatalf("completed results must be preserved")
	}
	if merged.Steps[2].Title != "four" || merged.Steps[3].Title != "two" {
		t.Fatalf("proposed steps must follow in proposal order, got %+v", merged.Steps)
	}
}

func TestMergeDecomposition(t *testing.T) {
	old := &Plan{Steps: []Step{
		{Title: "Fetch 3 stocks and summarize", Description: "fetch and summarize", ExecutionRes: "AAPL, MSFT, NVDA"},
	}}
	proposed := &Plan{Steps: []Step{
		{Title: "<decomposed>Fetch 3 stocks and summarize", Description: "<decomposed>fetch and summarize"},
		{Title: "Analyze AAPL", Description: "apple"},
		{Title: "Analyze MSFT", Description: "microsoft"},
		{Title: "Analyze NVDA", Description: "nvidia"},
	}}
	merged := MergePlans(old, proposed)
	if len(merged.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(merged.Steps))
	}
	first := merged.Steps[0]
	if first.ExecutionRes != DecomposedSentinel {
		t.Fatalf("matched step must carry the decomposed sentinel, got %q", first.ExecutionRes)
	}
	if first.Title != "Fetch 3 stocks and summarize" {
		t.Fatalf("sentinel marker must be stripped from the title, got %q", first.Title)
	}
	for i := 1; i < 4; i++ {
		if merged.Steps[i].Completed() {
			t.Fatalf("new sub-steps must be pending, got %+v", merged.Steps[i])
		}
	}
}

func TestMergeDecomposedInsert(t *testing.T) {
	proposed := &Plan{Steps: []Step{
		{Title: "<decomposed>container", Description: "split elsewhere"},
	}}
	merged := MergePlans(&Plan{}, proposed)
	if merged.Steps[0].ExecutionRes != DecomposedSentinel {
		t.Fatalf("unseen decomposed-marked step must insert with the sentinel")
	}
}

func TestMergeAppendsDroppedOldSteps(t *testing.T) {
	old := &Plan{Steps: []Step{
		{Title: "keep", Description: "still pending"},
	}}
	proposed := &Plan{Steps: []Step{
		{Title: "new", Description: "fresh"},
	}}
	merged := MergePlans(old, proposed)
	if len(merged.Steps) != 2 || merged.Steps[1].Title != "keep" {
		t.Fatalf("old unseen steps must be appended last, got %+v", merged.Steps)
	}
}

func TestMergeKeyNormalization(t *testing.T) {
	old := &Plan{Steps: []Step{
		{Title: "Compare  Rules", Description: "FRANCE and germany", ExecutionRes: "done"},
	}}
	proposed := &Plan{Steps: []Step{
		{Title: "compare rules", Description: "france AND GERMANY"},
	}}
	merged := MergePlans(old, proposed)
	if len(merged.Steps) != 1 {
		t.Fatalf("case and whitespace differences must still match, got %+v", merged.Steps)
	}
	if merged.Steps[0].ExecutionRes != "done" {
		t.Fatalf("completed result must survive the merge")
	}
}

func TestMergeIdempotent(t *testing.T) {
	old := &Plan{Locale: "en-US", Thought: "t", Steps: []Step{
		{Title: "one", Description: "d1", ExecutionRes: "r1"},
		{Title: "two", Description: "d2"},
	}}
	proposed := &Plan{Locale: "en-US", Steps: []Step{
		{Title: "<decomposed>two", Description: "<decomposed>d2"},
		{Title: "two-a", Description: "part a"},
		{Title: "two-b", Description: "part b"},
	}}
	once := MergePlans(old, proposed)
	twice := MergePlans(once, proposed)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge must be idempotent under a stable proposal:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMergeInheritsMetadata(t *testing.T) {
	old := &Plan{Locale: "zh-CN", Thought: "old thought", Title: "old title"}
	proposed := &Plan{Locale: "", HasEnoughContext: true, Thought: "new", Title: "new"}
	merged := MergePlans(old, proposed)
	if merged.Locale != "zh-CN" || merged.Thought != "old thought" || merged.Title != "old title" {
		t.Fatalf("old metadata must win when present, got %+v", merged)
	}
	if !merged.HasEnoughContext {
		t.Fatalf("has_enough_context always comes from the proposal")
	}
}
