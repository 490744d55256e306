package resolve

import "testing"

func TestJaroWinklerIdentical(t *testing.T) {
	jw := JaroWinkler{}
	if got := jw.Similarity("JOAO DA SILVA", "JOAO DA SILVA"); got != 1 {
		t.Fatalf("got %v, want 1", got)
	}
}

func TestJaroWinklerDisjoint(t *testing.T) {
	jw := JaroWinkler{}
	if got := jw.Similarity("ABC", "XYZ"); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}

func TestJaroWinklerEmpty(t *testing.T) {
	jw := JaroWinkler{}
	if got := jw.Similarity("", "JOAO"); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}

func TestJaroWinklerClassicPairs(t *testing.T) {
	jw := JaroWinkler{}
	tests := []struct {
		a, b     string
		min, max float64
	}{
		{"MARTHA", "MARHTA", 0.95, 0.97},
		{"DWAYNE", "DUANE", 0.82, 0.86},
		{"MARIA APARECIDA SANTOS", "MARIA APARECIDA DOS SANTOS", 0.90, 1.0},
	}
	for _, tt := range tests {
		got := jw.Similarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Fatalf("Similarity(%q, %q) = %v, want in [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestJaroWinklerSymmetric(t *testing.T) {
	jw := JaroWinkler{}
	a, b := "CONSTRUTORA ALFA LTDA", "CONSTRUTORA ALPHA LTDA"
	if x, y := jw.Similarity(a, b), jw.Similarity(b, a); x != y {
		t.Fatalf("asymmetric: %v vs %v", x, y)
	}
}

func TestLevenshtein(t *testing.T) {
	lv := Levenshtein{}
	tests := []struct {
		a, b string
		want float64
	}{
		{"ABCD", "ABCD", 1},
		{"ABCD", "ABCE", 0.75},
		{"", "", 0},
		{"AB", "", 0},
	}
	for _, tt := range tests {
		if got := lv.Similarity(tt.a, tt.b); got != tt.want {
			t.Fatalf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestExact(t *testing.T) {
	ex := Exact{}
	if got := ex.Similarity("A", "A"); got != 1 {
		t.Fatalf("got %v, want 1", got)
	}
	if got := ex.Similarity("A", "B"); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}
