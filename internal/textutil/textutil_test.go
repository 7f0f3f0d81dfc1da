package textutil

import "testing"

func TestTokens(t *testing.T) {
	got := Tokens("Speed is distance, divided by time.")
	want := []string{"Speed", "is", "distance", "divided", "by", "time"}
	if len(got) != len(want) {
		t.Fatalf("Tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
	if Tokens("   ") != nil {
		t.Error("blank text should have no tokens")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("one two three"); got != 4 {
		t.Errorf("EstimateTokens = %d, want 4", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d", got)
	}
}

func TestJaccard(t *testing.T) {
	a := ContentWords("The speed of a moving body is the distance covered per unit time")
	b := ContentWords("Speed: distance covered by a moving body per unit time")
	c := ContentWords("Photosynthesis converts light into chemical energy in plants")

	if s := Jaccard(a, b); s < 0.5 {
		t.Errorf("near-duplicate similarity = %.2f, want >= 0.5", s)
	}
	if s := Jaccard(a, c); s > 0.1 {
		t.Errorf("unrelated similarity = %.2f, want ~0", s)
	}
	if _, ok := a["the"]; ok {
		t.Error("stopwords should be removed")
	}
	if Jaccard(nil, nil) != 0 {
		t.Error("empty sets should score 0")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 3); got != "abc..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("abc", 3); got != "abc" {
		t.Errorf("Truncate = %q", got)
	}
}
