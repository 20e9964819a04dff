package timefmt

import (
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	want := time.Date(2025, 2, 27, 15, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "canonical", input: "2025-02-27T15:00:00"},
		{name: "legacy", input: "2025-02-27 15:00:00"},
		{name: "date only", input: "2025-02-27", wantErr: true},
		{name: "rfc3339 with zone", input: "2025-02-27T15:00:00Z", wantErr: true},
		{name: "slashes", input: "2025/02/27 15:00:00", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("expected ErrMalformed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize("2024-02-20 12:00:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2024-02-20T12:00:00" {
		t.Errorf("expected canonical form, got %s", got)
	}

	got, err = Normalize("2024-02-20T12:00:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2024-02-20T12:00:00" {
		t.Errorf("canonical input should pass through, got %s", got)
	}

	if _, err := Normalize("20/02/2024"); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestParseDate(t *testing.T) {
	if _, err := ParseDate("20240220"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParseDate("2024-02-20"); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
	if _, err := ParseDate("20241340"); err == nil {
		t.Error("expected error for impossible date")
	}
}
