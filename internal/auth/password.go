// Password hashing for the fake identity backend.
//
// WHY BCRYPT?
// bcrypt is slow on purpose, which makes guessing passwords offline
// expensive. It salts every hash itself and stores the salt and cost inside
// the output, so one string column is all a user record needs:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// defaultCost is the bcrypt work factor. 12 takes a few hundred
	// milliseconds per hash: unnoticeable on sign-in, painful for an attacker.
	// Tests drop to bcrypt.MinCost through NewPasswordServiceWithCost.
	defaultCost = 12

	// MinPasswordLength matches the identity backend's sign-up rule.
	MinPasswordLength = 6
	// bcrypt silently truncates longer input, so it is rejected instead.
	maxPasswordLength = 72
)

var (
	ErrInvalidPassword = errors.New("auth: invalid password")
	ErrWeakPassword    = fmt.Errorf("auth: password should be at least %d characters", MinPasswordLength)
)

// PasswordService hashes and checks sign-up passwords with bcrypt. The
// cost is a field so tests can run at bcrypt.MinCost.
type PasswordService struct {
	cost int
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceWithCost is for tests and the local fake backend.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash validates the plaintext against the sign-up rules and hashes it.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	if len(plaintext) > maxPasswordLength {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordLength)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns ErrInvalidPassword when plaintext does not match hash.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
