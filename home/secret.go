package home

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

type SecretKind int

const (
	APISecret SecretKind = iota
	ForeignAPISecret
)

const (
	secretLength  = 20
	secretCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var (
	ErrSecretEmpty      = errors.New("secret file is empty")
	ErrSecretMalformed  = errors.New("secret file contains characters outside [A-Za-z0-9]")
	ErrSecretUnreadable = errors.New("secret file is unreadable")
)

func (k SecretKind) String() string {
	switch k {
	case APISecret:
		return "api secret"
	case ForeignAPISecret:
		return "foreign api secret"
	default:
		return fmt.Sprintf("secret(%d)", int(k))
	}
}

// FileName is the name of the secret file inside the node home.
func (k SecretKind) FileName() string {
	if k == ForeignAPISecret {
		return ForeignAPISecretFileName
	}
	return APISecretFileName
}

// SecretError reports a secret file that exists but cannot be used. It is not
// recoverable without operator intervention.
type SecretError struct {
	Path string
	Kind SecretKind
	Err  error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Path, e.Err)
}

func (e *SecretError) Unwrap() error {
	return e.Err
}

// EnsureSecret generates the secret at path if it does not exist and validates
// it if it does.
func EnsureSecret(path string, kind SecretKind) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return initSecret(path)
	} else if err != nil {
		return &SecretError{Path: path, Kind: kind, Err: fmt.Errorf("%w: %v", ErrSecretUnreadable, err)}
	}
	return checkSecret(path, kind)
}

// EnsureSecrets covers both secret files under homeDir.
func EnsureSecrets(homeDir string) error {
	for _, kind := range []SecretKind{APISecret, ForeignAPISecret} {
		if err := EnsureSecret(filepath.Join(homeDir, kind.FileName()), kind); err != nil {
			return err
		}
	}
	return nil
}

func initSecret(path string) error {
	secret, err := generateSecret()
	if err != nil {
		return pkgerrors.Wrapf(err, "unable to generate secret for %s", path)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return pkgerrors.Wrapf(err, "unable to create secret file %s", path)
	}
	if _, err := f.WriteString(secret); err != nil {
		f.Close()
		return pkgerrors.Wrapf(err, "unable to write secret file %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return pkgerrors.Wrapf(err, "unable to sync secret file %s", path)
	}
	return f.Close()
}

func checkSecret(path string, kind SecretKind) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &SecretError{Path: path, Kind: kind, Err: fmt.Errorf("%w: %v", ErrSecretUnreadable, err)}
	}
	secret := strings.TrimRight(string(raw), "\r\n")
	if secret == "" {
		return &SecretError{Path: path, Kind: kind, Err: ErrSecretEmpty}
	}
	for _, r := range secret {
		if !strings.ContainsRune(secretCharset, r) {
			return &SecretError{Path: path, Kind: kind, Err: ErrSecretMalformed}
		}
	}
	return nil
}

func generateSecret() (string, error) {
	var sb strings.Builder
	limit := big.NewInt(int64(len(secretCharset)))
	for i := 0; i < secretLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(secretCharset[n.Int64()])
	}
	return sb.String(), nil
}
