package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword bcrypt-hashes the admin password.  Hashing happens once
// at startup from the env-provided credential; only the hash is kept in
// memory for login checks.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword reports whether plain matches the stored hash.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
