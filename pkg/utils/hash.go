package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPasscode hashes a session passcode using bcrypt.
func HashPasscode(passcode string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasscode compares a plain passcode with its bcrypt hash.
func CheckPasscode(plain, hashed string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	return err == nil
}
