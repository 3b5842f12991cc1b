package extension

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Credentials maps usernames to bcrypt password hashes
type Credentials map[string][]byte

func (c Credentials) Add(username string, password []byte) error {
	hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	c[username] = hash
	return nil
}

// AddHash registers an existing bcrypt hash
func (c Credentials) AddHash(username string, hash []byte) error {
	if _, err := bcrypt.Cost(hash); err != nil {
		return fmt.Errorf("bad hash for %v: %w", username, err)
	}
	c[username] = hash
	return nil
}

// Authenticate checks the simple authentication entry of composite metadata
// and returns the authenticated username.
func (c Credentials) Authenticate(metadata []byte) (string, error) {
	entries, err := DecodeComposite(metadata)
	if err != nil {
		return "", err
	}
	auth, ok := Find(entries, MimeTypeAuthentication)
	if !ok {
		return "", fmt.Errorf("%w: no authentication metadata", ErrUnauthenticated)
	}
	authType, payload, err := DecodeAuthentication(auth)
	if err != nil {
		return "", err
	}
	if authType != AuthTypeSimple {
		return "", fmt.Errorf("%w: unsupported auth type %v", ErrUnauthenticated, authType)
	}
	username, password, err := DecodeSimple(payload)
	if err != nil {
		return "", err
	}
	hash, ok := c[username]
	if !ok {
		return "", fmt.Errorf("%w: unknown user %v", ErrUnauthenticated, username)
	}
	if err := bcrypt.CompareHashAndPassword(hash, password); err != nil {
		return "", fmt.Errorf("%w: bad password for %v", ErrUnauthenticated, username)
	}
	return username, nil
}
