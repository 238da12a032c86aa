package stream

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantStart int64
		wantEnd   int64
		wantErr   error
		wantNil   bool
	}{
		{
			name:    "empty header",
			header:  "",
			wantNil: true,
		},
		{
			name:      "bounded range",
			header:    "bytes=0-99",
			wantStart: 0,
			wantEnd:   99,
		},
		{
			name:      "unbounded range",
			header:    "bytes=500-",
			wantStart: 500,
			wantEnd:   -1,
		},
		{
			name:    "suffix range",
			header:  "bytes=-500",
			wantErr: ErrSuffixRange,
		},
		{
			name:    "missing unit",
			header:  "0-99",
			wantErr: ErrMalformedRange,
		},
		{
			name:    "multiple ranges",
			header:  "bytes=0-99,200-299",
			wantErr: ErrMalformedRange,
		},
		{
			name:    "end before start",
			header:  "bytes=100-50",
			wantErr: ErrMalformedRange,
		},
		{
			name:    "garbage start",
			header:  "bytes=abc-99",
			wantErr: ErrMalformedRange,
		},
		{
			name:    "no dash",
			header:  "bytes=100",
			wantErr: ErrMalformedRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseRange(tt.header)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseRange(%q) error = %v, want %v", tt.header, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange(%q) unexpected error: %v", tt.header, err)
			}

			if tt.wantNil {
				if spec != nil {
					t.Fatalf("ParseRange(%q) = %+v, want nil", tt.header, spec)
				}
				return
			}

			if spec.Start != tt.wantStart || spec.End != tt.wantEnd {
				t.Errorf("ParseRange(%q) = {%d, %d}, want {%d, %d}",
					tt.header, spec.Start, spec.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestRangeSpecResolve(t *testing.T) {
	tests := []struct {
		name      string
		spec      RangeSpec
		total     int64
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{
			name:      "bounded within total",
			spec:      RangeSpec{Start: 0, End: 99},
			total:     1000,
			wantStart: 0,
			wantEnd:   99,
		},
		{
			name:      "unbounded clamps to last byte",
			spec:      RangeSpec{Start: 500, End: -1},
			total:     1000,
			wantStart: 500,
			wantEnd:   999,
		},
		{
			name:      "end beyond total clamps",
			spec:      RangeSpec{Start: 0, End: 5000},
			total:     1000,
			wantStart: 0,
			wantEnd:   999,
		},
		{
			name:    "start at total is unsatisfiable",
			spec:    RangeSpec{Start: 1000, End: -1},
			total:   1000,
			wantErr: true,
		},
		{
			name:    "start beyond total is unsatisfiable",
			spec:    RangeSpec{Start: 2000, End: 2999},
			total:   1000,
			wantErr: true,
		},
		{
			name:      "unknown total keeps requested bounds",
			spec:      RangeSpec{Start: 100, End: 199},
			total:     -1,
			wantStart: 100,
			wantEnd:   199,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := tt.spec.Resolve(tt.total)
			if tt.wantErr {
				if !errors.Is(err, ErrRangeNotSatisfiable) {
					t.Fatalf("Resolve() error = %v, want ErrRangeNotSatisfiable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() unexpected error: %v", err)
			}
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("Resolve() = (%d, %d), want (%d, %d)", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestContentRange(t *testing.T) {
	if got := ContentRange(0, 99, 1000); got != "bytes 0-99/1000" {
		t.Errorf("ContentRange(0, 99, 1000) = %q", got)
	}
	if got := ContentRange(100, 199, -1); got != "bytes 100-199/*" {
		t.Errorf("ContentRange(100, 199, -1) = %q", got)
	}
}
