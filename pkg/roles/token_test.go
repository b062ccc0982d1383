package roles

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Reference
	}{
		{
			name: "no markers",
			text: "hello world",
			want: nil,
		},
		{
			name: "id and name amid text",
			text: "@roles react here {ROLE:111} or {ROLE:Blue}",
			want: []Reference{{ByID, "111"}, {ByName, "Blue"}},
		},
		{
			name: "duplicates preserved",
			text: "{ROLE:Blue}{ROLE:Blue} {ROLE:blue}",
			want: []Reference{{ByName, "Blue"}, {ByName, "Blue"}, {ByName, "blue"}},
		},
		{
			name: "case-insensitive prefix",
			text: "{role:Rust} {Role:42}",
			want: []Reference{{ByName, "Rust"}, {ByID, "42"}},
		},
		{
			name: "empty identifier skipped",
			text: "{ROLE:} {ROLE:   } {ROLE:Go}",
			want: []Reference{{ByName, "Go"}},
		},
		{
			name: "unterminated marker skipped",
			text: "{ROLE:Go} trailing {ROLE:Rust",
			want: []Reference{{ByName, "Go"}},
		},
		{
			name: "nested brace restarts scan",
			text: "{ROLE:bad{ROLE:Good}",
			want: []Reference{{ByName, "Good"}},
		},
		{
			name: "role mention is by id",
			text: "{ROLE:<@&9001>}",
			want: []Reference{{ByID, "9001"}},
		},
		{
			name: "mixed digits and letters is a name",
			text: "{ROLE:2024 Cohort}",
			want: []Reference{{ByName, "2024 Cohort"}},
		},
		{
			name: "identifier too long skipped",
			text: "{ROLE:" + strings.Repeat("x", 33) + "} {ROLE:ok}",
			want: []Reference{{ByName, "ok"}},
		},
		{
			name: "unicode names",
			text: "Pick {ROLE:Café} or {ROLE:日本語}",
			want: []Reference{{ByName, "Café"}, {ByName, "日本語"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTokens(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTokens(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseTokens_CountMatchesMarkers(t *testing.T) {
	fillers := []string{"", " ", "text ", "{", "}", "ROLE:", "{ROLE", "🎉"}
	for k := 0; k <= 6; k++ {
		for _, f := range fillers {
			var b strings.Builder
			for i := 0; i < k; i++ {
				b.WriteString(f)
				b.WriteString("{ROLE:r")
				b.WriteByte(byte('a' + i))
				b.WriteString("}")
			}
			b.WriteString(f)

			got := ParseTokens(b.String())
			if len(got) != k {
				t.Fatalf("k=%d filler=%q: got %d refs (%v)", k, f, len(got), got)
			}
			for i, ref := range got {
				want := "r" + string(rune('a'+i))
				if ref.Value != want {
					t.Fatalf("k=%d filler=%q: ref %d = %q, want %q", k, f, i, ref.Value, want)
				}
			}
		}
	}
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		in   string
		want Reference
		ok   bool
	}{
		{"<@&42>", Reference{Kind: ByID, Value: "42"}, true},
		{"42", Reference{Kind: ByID, Value: "42"}, true},
		{"Blue", Reference{Kind: ByName, Value: "Blue"}, true},
		{"   ", Reference{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseReference(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseReference(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
