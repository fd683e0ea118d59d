package domain

import "testing"

func TestUser_Validate(t *testing.T) {
	u := &User{Email: "  Jane@Example.COM "}
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if u.Email != "jane@example.com" {
		t.Errorf("Email = %q, want normalized", u.Email)
	}
	if u.Role != DefaultRole {
		t.Errorf("Role = %q, want %q", u.Role, DefaultRole)
	}

	phoneOnly := &User{Phone: "9876543210"}
	if err := phoneOnly.Validate(); err != nil {
		t.Errorf("phone-only user: %v", err)
	}
	if err := (&User{}).Validate(); err == nil {
		t.Error("user without email or phone should fail")
	}
}
