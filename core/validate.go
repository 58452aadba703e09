package core

import (
	"fmt"
	"strings"
	"unicode"
)

// Client-side validation of login form fields. The rules must mirror the
// server's own checks so the form can refuse a submission the server would
// reject anyway. Messages are user-presentable and match the webapp's
// wording.

const (
	MinUsernameLen = 3
	MaxUsernameLen = 20
	MinPasswordLen = 6
	MaxPasswordLen = 16
	VerifyCodeLen  = 8
)

// CheckInvalidUsernameChars reports whether the username starts with a digit
// or contains a character outside letters, digits, and underscore. An empty
// username is not reported; required-ness is a separate check.
func CheckInvalidUsernameChars(username string) bool {
	if username == "" {
		return false
	}
	c := username[0]
	if c >= '0' && c <= '9' {
		return true
	}
	for _, r := range username {
		if r == '_' {
			continue
		}
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return true
		}
	}
	return false
}

// ValidateUsername applies the full username policy used everywhere except
// password login (existing names are the server's business there).
func ValidateUsername(username string) error {
	if CheckInvalidUsernameChars(username) {
		return fmt.Errorf("Username must not start with a number and must have " +
			"only alphabetic, numeric, or underscore characters.")
	}
	if len(username) < MinUsernameLen {
		return fmt.Errorf("Username must be at least three characters in length.")
	}
	if len(username) > MaxUsernameLen {
		return fmt.Errorf("Username cannot be more than twenty characters in length.")
	}
	return nil
}

// CheckForOneNumber reports whether the password has at least one digit.
func CheckForOneNumber(password string) bool {
	return strings.ContainsFunc(password, unicode.IsDigit)
}

func hasSpecialChar(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func hasWhitespace(s string) bool {
	return strings.ContainsFunc(s, unicode.IsSpace)
}

// ValidatePassword applies the password policy for activities that set a
// password. The entity names the password in messages ("password" for a new
// user, "new password" when replacing one).
func ValidatePassword(entity, password, passwordVerify string) error {
	if entity == "" {
		entity = "password"
	}
	if !CheckForOneNumber(password) || !hasSpecialChar(password) {
		return fmt.Errorf("The %s must have one numeric character and one special "+
			"(non-alphanumeric) character in it.", entity)
	}
	if len(password) < MinPasswordLen {
		return fmt.Errorf("The %s must be at least six characters in length.", entity)
	}
	if len(password) > MaxPasswordLen {
		return fmt.Errorf("The %s cannot have more than sixteen characters in it.", entity)
	}
	if hasWhitespace(password) {
		return fmt.Errorf("The %s cannot have whitespace in it.", entity)
	}
	if passwordVerify == "" || passwordVerify != password {
		return fmt.Errorf("The verify password must be equal to the %s.", entity)
	}
	return nil
}

// ValidateChangePassword is ValidatePassword plus the current-password
// requirement of the change-password activity.
func ValidateChangePassword(currentPassword, password, passwordVerify string) error {
	if err := ValidatePassword("new password", password, passwordVerify); err != nil {
		return err
	}
	if currentPassword == "" {
		return fmt.Errorf("Your current password is required in order to change your password.")
	}
	return nil
}

// ValidateContactAddress applies the loose registration address check: at
// least three characters with '@' neither first nor last.
func ValidateContactAddress(addr string) error {
	if len(addr) < 3 {
		return fmt.Errorf("Registration email must be at least three characters in length.")
	}
	index := strings.Index(addr, "@")
	if index <= 0 || index >= len(addr)-1 {
		return fmt.Errorf("Registration email must have an '@' in its interior.")
	}
	return nil
}

// ValidateVerifyCode requires the eight character emailed code.
func ValidateVerifyCode(code string) error {
	if len(code) != VerifyCodeLen {
		return fmt.Errorf("The verification code must be eight characters in length.")
	}
	return nil
}
