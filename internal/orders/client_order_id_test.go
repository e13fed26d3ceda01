package orders

import "testing"

func TestBuildClientOrderID(t *testing.T) {
	id := BuildClientOrderID(42, 7, "sl")
	if id != "42_7_sl" {
		t.Errorf("BuildClientOrderID() = %q, want %q", id, "42_7_sl")
	}
}

func TestParseClientOrderID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want *ParsedClientOrderID
	}{
		{
			name: "entry leg",
			id:   "42_7_entry",
			want: &ParsedClientOrderID{DecisionID: 42, PositionID: 7, Role: "entry"},
		},
		{
			name: "tp1 leg",
			id:   "1_2_tp1",
			want: &ParsedClientOrderID{DecisionID: 1, PositionID: 2, Role: "tp1"},
		},
		{
			name: "manual order",
			id:   "web_12345",
			want: nil,
		},
		{
			name: "non-numeric decision id",
			id:   "x_7_sl",
			want: nil,
		},
		{
			name: "empty role",
			id:   "42_7_",
			want: nil,
		},
		{
			name: "empty string",
			id:   "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseClientOrderID(tt.id)
			if tt.want == nil {
				if got != nil {
					t.Errorf("ParseClientOrderID(%q) = %+v, want nil", tt.id, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseClientOrderID(%q) = nil, want %+v", tt.id, tt.want)
			}
			if *got != *tt.want {
				t.Errorf("ParseClientOrderID(%q) = %+v, want %+v", tt.id, got, tt.want)
			}
		})
	}
}

func TestClientOrderIDRoundTrip(t *testing.T) {
	id := BuildClientOrderID(99, 123, "tp2")
	parsed := ParseClientOrderID(id)
	if parsed == nil {
		t.Fatal("round trip parse returned nil")
	}
	if parsed.DecisionID != 99 || parsed.PositionID != 123 || parsed.Role != "tp2" {
		t.Errorf("round trip mismatch: %+v", parsed)
	}
}
