package webhooks

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"+15125550134", "+15125550134"},
		{"15125550134", "+15125550134"},
		{"5125550134", "+15125550134"},
		{"(512) 555-0134", "+15125550134"},
		{"1 (512) 555 0134", "+15125550134"},
		{"+1 512.555.0134", "+15125550134"},
		{"  5125550134  ", "+15125550134"},
		{"0125550134", ""},  // area code cannot start with 0/1
		{"5121550134", ""},  // exchange cannot start with 0/1
		{"512555013", ""},   // too short
		{"51255501345", ""}, // too long
		{"+447911123456", ""},
		{"not a number", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.raw); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestExtractPhone(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Haircut with Jane, +12025551234", "+12025551234"},
		{"Phone: (512) 555-0134", "+15125550134"},
		{"tel: 512.555.0134", "+15125550134"},
		{"Call me back at 202-555-9999 after 3pm", "+12025559999"},
		{"Booked online\nContact: John\n5125550134", "+15125550134"},
		{"Room 512, building 555", ""},
		{"Order #2025551234567", ""}, // trailing digits break the match
		{"no digits here", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ExtractPhone(tc.text); got != tc.want {
			t.Errorf("ExtractPhone(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
