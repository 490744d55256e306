package normalize

import (
	"testing"
	"time"
)

func TestName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"João da Silva", "JOAO DA SILVA"},
		{"  maria   aparecida  ", "MARIA APARECIDA"},
		{"JOSÉ D'ÁVILA", "JOSE DAVILA"},
		{"Construções Júnior Ltda.", "CONSTRUCOES JUNIOR LTDA"},
		{"ANA-PAULA", "ANA-PAULA"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Name(tt.raw); got != tt.want {
			t.Fatalf("Name(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestMoney(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"R$ 1.234.567,89", "1234567.89"},
		{"1.234,56", "1234.56"},
		{"4000,00", "4000"},
		{"57278.16", "57278.16"},
		{"", "0"},
		{"-", "0"},
		{"#NULO#", "0"},
	}
	for _, tt := range tests {
		got, err := Money(tt.raw)
		if err != nil {
			t.Fatalf("Money(%q): %v", tt.raw, err)
		}
		if got.String() != tt.want {
			t.Fatalf("Money(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestMoneyInvalid(t *testing.T) {
	if _, err := Money("abc"); err == nil {
		t.Fatal("expected error for non-numeric amount")
	}
}

func TestDate(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"15/03/2024", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"03/2024", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-03-15", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := Date(tt.raw)
		if err != nil {
			t.Fatalf("Date(%q): %v", tt.raw, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("Date(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestDateInvalid(t *testing.T) {
	if _, err := Date("nunca"); err == nil {
		t.Fatal("expected error for unparseable date")
	}
}
