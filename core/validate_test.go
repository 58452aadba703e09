package core

import (
	"strings"
	"testing"
)

func TestCheckInvalidUsernameCharsShouldFlagBadUsernames(t *testing.T) {
	tests := []struct {
		username string
		invalid  bool
	}{
		{"abc_9", false},
		{"Walrus", false},
		{"a1b2c3", false},
		{"9abc", true},  // starts with a digit
		{"ab$c", true},  // special character
		{"ab c", true},  // whitespace
		{"abçd", true},  // non-ASCII letter
		{"", false},     // emptiness is a separate check
		{"_abc", false}, // underscore is allowed anywhere
		{"ab-cd", true}, // dash
	}

	for _, test := range tests {
		if got := CheckInvalidUsernameChars(test.username); got != test.invalid {
			t.Errorf("CheckInvalidUsernameChars(%q) = %v, want %v", test.username, got, test.invalid)
		}
	}
}

func TestValidateUsernameShouldEnforceLength(t *testing.T) {
	if err := ValidateUsername("ab"); err == nil {
		t.Error("two character username should be rejected")
	}
	if err := ValidateUsername("abc"); err != nil {
		t.Errorf("three character username should be accepted, got %v", err)
	}
	if err := ValidateUsername(strings.Repeat("a", 21)); err == nil {
		t.Error("twenty-one character username should be rejected")
	}
	if err := ValidateUsername(strings.Repeat("a", 20)); err != nil {
		t.Errorf("twenty character username should be accepted, got %v", err)
	}
}

func TestValidatePasswordShouldEnforcePolicy(t *testing.T) {
	tests := []struct {
		name     string
		password string
		verify   string
		wantErr  string
	}{
		{"valid", "abc!23", "abc!23", ""},
		{"no digit", "abcdef!", "abcdef!",
			"must have one numeric character and one special"},
		{"no special", "abc123", "abc123",
			"must have one numeric character and one special"},
		{"too short", "a!2", "a!2", "at least six characters"},
		{"too long", "a!234567890123456", "a!234567890123456",
			"more than sixteen characters"},
		{"whitespace", "ab c12!", "ab c12!", "whitespace"},
		{"verify mismatch", "abc!23", "abc!24", "verify password"},
		{"verify empty", "abc!23", "", "verify password"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := ValidatePassword("password", test.password, test.verify)
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidatePassword() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("ValidatePassword() = %v, want message containing %q", err, test.wantErr)
			}
		})
	}
}

func TestValidatePasswordShouldNameEntityInMessages(t *testing.T) {
	err := ValidatePassword("new password", "abcdef", "abcdef")
	if err == nil || !strings.Contains(err.Error(), "The new password") {
		t.Errorf("message should name the entity, got %v", err)
	}
}

func TestValidateChangePasswordShouldRequireCurrentPassword(t *testing.T) {
	if err := ValidateChangePassword("", "abc!23", "abc!23"); err == nil {
		t.Error("missing current password should be rejected")
	}
	if err := ValidateChangePassword("old!pw1", "abc!23", "abc!23"); err != nil {
		t.Errorf("valid change should be accepted, got %v", err)
	}
}

func TestValidateContactAddressShouldCheckAtPlacement(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"a@b", false},
		{"user@example.org", false},
		{"ab", true},      // too short
		{"@abc", true},    // '@' first
		{"abc@", true},    // '@' last
		{"abcdef", true},  // no '@'
	}

	for _, test := range tests {
		err := ValidateContactAddress(test.addr)
		if (err != nil) != test.wantErr {
			t.Errorf("ValidateContactAddress(%q) = %v, wantErr %v", test.addr, err, test.wantErr)
		}
	}
}

func TestValidateVerifyCodeShouldRequireEightCharacters(t *testing.T) {
	if err := ValidateVerifyCode("abcd1234"); err != nil {
		t.Errorf("eight character code should be accepted, got %v", err)
	}
	if err := ValidateVerifyCode("abcd123"); err == nil {
		t.Error("seven character code should be rejected")
	}
	if err := ValidateVerifyCode(""); err == nil {
		t.Error("empty code should be rejected")
	}
}
