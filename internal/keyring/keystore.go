package keyring

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Klingon-tech/proxyguard/internal/log"
)

// ErrKeystoreNotFound is returned when a named keystore file does not exist.
var ErrKeystoreNotFound = errors.New("keystore not found")

const keystoreExt = ".keyring"

// keystoreFile is the on-disk JSON format.
type keystoreFile struct {
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Sealed    []byte            `json:"sealed_mnemonic"`
	Roles     map[string]string `json:"roles"` // role -> SS58, readable without the password
}

// Keystore keeps encrypted mnemonics in a directory, one file per name.
type Keystore struct {
	dir string
}

// NewKeystore opens dir, creating it with owner-only permissions.
func NewKeystore(dir string) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{dir: dir}, nil
}

func (ks *Keystore) path(name string) string {
	return filepath.Join(ks.dir, name+keystoreExt)
}

// Create encrypts mnemonic under password and writes it as name.
func (ks *Keystore) Create(name, mnemonic string, password []byte, p KDFParams) error {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid keystore name %q", name)
	}
	path := ks.path(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("keystore %q already exists", name)
	}

	kr, err := New(mnemonic)
	if err != nil {
		return err
	}
	defer kr.Zero()

	sealed, err := Seal([]byte(normalizeMnemonic(mnemonic)), password, p)
	if err != nil {
		return fmt.Errorf("seal mnemonic: %w", err)
	}
	kf := keystoreFile{
		Version:   1,
		CreatedAt: time.Now().UTC(),
		Sealed:    sealed,
		Roles:     make(map[string]string),
	}
	for _, role := range Roles() {
		addr, _ := kr.Address(role)
		kf.Roles[role] = addr.String()
	}

	data, err := json.MarshalIndent(&kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	log.Keyring.Info().Str("name", name).Str("path", path).Msg("Created keystore")
	return nil
}

// Load decrypts name and derives its keyring.
func (ks *Keystore) Load(name string, password []byte) (*Keyring, error) {
	kf, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	mnemonic, err := Open(kf.Sealed, password)
	if err != nil {
		return nil, fmt.Errorf("open keystore %q: %w", name, err)
	}
	defer zero(mnemonic)
	return New(string(mnemonic))
}

// Roles returns the role addresses recorded in name without decrypting it.
func (ks *Keystore) Roles(name string) (map[string]string, error) {
	kf, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	return kf.Roles, nil
}

// List returns the names of all keystores, sorted.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.dir)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), keystoreExt) {
			names = append(names, strings.TrimSuffix(e.Name(), keystoreExt))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes name.
func (ks *Keystore) Delete(name string) error {
	err := os.Remove(ks.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrKeystoreNotFound, name)
	}
	return err
}

func (ks *Keystore) read(name string) (*keystoreFile, error) {
	data, err := os.ReadFile(ks.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeystoreNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported keystore version: %d", kf.Version)
	}
	return &kf, nil
}
