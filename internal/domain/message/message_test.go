package message

import "testing"

func TestValidate(t *testing.T) {
	if err := (&Message{From: "d1"}).Validate(); err == nil {
		t.Fatal("expected error for missing type")
	}
	if err := (&Message{Type: TypeIP}).Validate(); err == nil {
		t.Fatal("expected error for missing from")
	}
	if err := (&Message{Type: TypeIP, From: "d1"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateMessageTypeToken(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		wantErr bool
	}{
		{"plain", TypeIP, false},
		{"underscore", TypeIPMatch, false},
		{"dash", "ip-match", false},
		{"dot", "ip.match", true},
		{"star", "ip.*", true},
		{"lone star", "*", true},
		{"tail wildcard", ">", true},
		{"space", "ip match", true},
		{"tab", "ip\tmatch", true},
		{"newline", "ip\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Message{Type: tt.typ, From: "d1"}).Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFilterMatches(t *testing.T) {
	m := &Message{Type: TypeIP, From: "d1", To: "u1"}

	if !(Filter{}).Matches(m) {
		t.Fatal("empty filter should match")
	}
	if !(Filter{Type: TypeIP}).Matches(m) {
		t.Fatal("type filter should match")
	}
	if (Filter{Type: TypeIPMatch}).Matches(m) {
		t.Fatal("other type should not match")
	}
	if (Filter{To: "u2"}).Matches(m) {
		t.Fatal("other recipient should not match")
	}
	if (Filter{}).Matches(nil) {
		t.Fatal("nil message should not match")
	}
}

func TestBodyString(t *testing.T) {
	m := &Message{Body: map[string]any{"ip_address": "1.2.3.4", "n": 3}}
	if got := m.BodyString("ip_address"); got != "1.2.3.4" {
		t.Fatalf("expected 1.2.3.4, got %q", got)
	}
	if got := m.BodyString("n"); got != "" {
		t.Fatalf("expected empty for non-string, got %q", got)
	}
	if got := (&Message{}).BodyString("x"); got != "" {
		t.Fatalf("expected empty for nil body, got %q", got)
	}
}
