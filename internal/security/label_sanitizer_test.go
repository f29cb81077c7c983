package security

import "testing"

func TestLabelSanitizer_StripsMarkup(t *testing.T) {
	s := NewLabelSanitizer()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"プレーンテキストはそのまま", "GRA", "GRA"},
		{"タグを除去", "<b>GRA</b>", "GRA"},
		{"scriptタグを除去", `GRA<script>alert(1)</script>`, "GRA"},
		{"imgタグを除去", `<img src="x" onerror="alert(1)">SBG`, "SBG"},
		{"前後の空白を除去", "  WAW  ", "WAW"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestLabelSanitizer_Idempotent は同一入力に対して常に同一出力を返すことを検証する。
func TestLabelSanitizer_Idempotent(t *testing.T) {
	s := NewLabelSanitizer()

	in := `<b>model</b>-3`
	first := s.Sanitize(in)
	second := s.Sanitize(first)
	if first != second {
		t.Errorf("Sanitize is not idempotent: %q -> %q", first, second)
	}
}
