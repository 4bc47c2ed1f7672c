// Package credential resolves configured secrets against the system
// keyring.
package credential

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/99designs/keyring"
)

const (
	serviceName = "inboxsync"

	DefaultDir = "~/.config/inboxsync/credentials"
)

// ErrNotFound is returned when a secret has no inline value and the
// keyring has no entry for its reference.
var ErrNotFound = errors.New("credential not found")

// Secret is a configured secret: an inline value, or a reference to a
// keyring entry used when the value is empty.
type Secret struct {
	Name  string
	Value string
	Ref   string
}

// Source says where a secret would be resolved from.
type Source string

const (
	SourceInline  Source = "inline"
	SourceKeyring Source = "keyring"
	SourceMissing Source = "missing"
	SourceUnset   Source = "unset"
)

// Vault wraps a keyring that is opened on first use and then reused.
type Vault struct {
	open func() (keyring.Keyring, error)

	once sync.Once
	ring keyring.Keyring
	err  error
}

// Open returns a Vault backed by the platform keyring. The file backend
// keeps its entries under dir, or DefaultDir when dir is empty.
func Open(dir string) *Vault {
	if dir == "" {
		dir = DefaultDir
	}
	return &Vault{open: func() (keyring.Keyring, error) {
		ring, err := keyring.Open(keyring.Config{
			ServiceName: serviceName,
			AllowedBackends: []keyring.BackendType{
				keyring.KeychainBackend,
				keyring.SecretServiceBackend,
				keyring.WinCredBackend,
				keyring.PassBackend,
				keyring.FileBackend,
			},
			FileDir:                  dir,
			FilePasswordFunc:         keyring.FixedStringPrompt("inboxsync-file-key"),
			KeychainTrustApplication: true,
		})
		if err != nil {
			return nil, fmt.Errorf("opening keyring: %w", err)
		}
		return ring, nil
	}}
}

// NewVault wraps an already open keyring.
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{open: func() (keyring.Keyring, error) { return ring, nil }}
}

func (v *Vault) keyring() (keyring.Keyring, error) {
	v.once.Do(func() { v.ring, v.err = v.open() })
	return v.ring, v.err
}

// Resolve returns the inline value of s when set, otherwise its keyring
// entry. A secret with neither resolves to "" without opening the
// keyring, so optional secrets stay optional.
func (v *Vault) Resolve(s Secret) (string, error) {
	if s.Value != "" {
		return s.Value, nil
	}
	if s.Ref == "" {
		return "", nil
	}
	val, err := v.Get(s.Ref)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%s: %w: %s", s.Name, ErrNotFound, s.Ref)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.Name, err)
	}
	return val, nil
}

// Source reports where s would come from, without reading its value.
func (v *Vault) Source(s Secret) (Source, error) {
	switch {
	case s.Value != "":
		return SourceInline, nil
	case s.Ref == "":
		return SourceUnset, nil
	}
	keys, err := v.Keys()
	if err != nil {
		return "", err
	}
	i := sort.SearchStrings(keys, s.Ref)
	if i < len(keys) && keys[i] == s.Ref {
		return SourceKeyring, nil
	}
	return SourceMissing, nil
}

// Get retrieves a value by key.
func (v *Vault) Get(key string) (string, error) {
	ring, err := v.keyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a value by key.
func (v *Vault) Set(key, value string) error {
	ring, err := v.keyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "inboxsync " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a value by key.
func (v *Vault) Delete(key string) error {
	ring, err := v.keyring()
	if err != nil {
		return err
	}

	if err := ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Keys lists the stored keys in order.
func (v *Vault) Keys() ([]string, error) {
	ring, err := v.keyring()
	if err != nil {
		return nil, err
	}

	keys, err := ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
