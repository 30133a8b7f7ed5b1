package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	hosterrors "github.com/multiacct/sessionhost/infrastructure/errors"
	"github.com/multiacct/sessionhost/infrastructure/logging"
	"github.com/multiacct/sessionhost/internal/secrets"
)

// Store is the Configuration Store (spec §4.1): durable, validated
// registry storage with atomic mutation and a single write guard.
type Store struct {
	mu           sync.Mutex
	path         string
	logger       *logging.Logger
	now          func() time.Time
	registry     registryFile
	masterSecret []byte
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithClock overrides the store's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCredentialProtection enables at-rest encryption of proxy passwords
// and translation API keys: every write derives a per-account key from
// masterSecret via HKDF and seals the credential before it reaches disk;
// every read reverses it. In-memory values are always plaintext. Without
// this option, credentials are persisted in the clear.
func WithCredentialProtection(masterSecret []byte) Option {
	return func(s *Store) { s.masterSecret = masterSecret }
}

// NewStore creates a Store backed by the registry file at path. It does
// not load the registry; call LoadAll first.
func NewStore(path string, logger *logging.Logger, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: logger,
		now:    time.Now,
		registry: registryFile{
			Version:  SchemaVersionCurrent,
			Accounts: make(map[string]Account),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadAll reads the backing file (creating an empty registry in memory if
// the file is absent) and returns all records sorted by Order. Fails with
// StoreCorrupt on an unparseable file; callers may proceed with an empty
// registry (the Store retains whatever was already in memory).
func (s *Store) LoadAll(ctx context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.registry = registryFile{Version: SchemaVersionCurrent, Accounts: make(map[string]Account)}
			return s.sortedLocked(), nil
		}
		return nil, hosterrors.StoreCorrupt(err)
	}

	var rf registryFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		s.logger.LogRegistryMutation(ctx, "loadAll", "", err)
		return nil, hosterrors.StoreCorrupt(err)
	}
	if rf.Accounts == nil {
		rf.Accounts = make(map[string]Account)
	}
	for id, a := range rf.Accounts {
		unsealed, err := s.unsealAccount(a)
		if err != nil {
			s.logger.LogRegistryMutation(ctx, "loadAll", id, err)
			return nil, hosterrors.StoreCorrupt(err)
		}
		rf.Accounts[id] = unsealed
	}
	s.registry = rf
	return s.sortedLocked(), nil
}

// sealAccount returns a with Proxy.Password and Translation.APIKey
// encrypted for storage, when credential protection is enabled. Caller
// must hold s.mu.
func (s *Store) sealAccount(a Account) (Account, error) {
	if s.masterSecret == nil {
		return a, nil
	}
	p, err := secrets.NewProtector(s.masterSecret, a.ID)
	if err != nil {
		return Account{}, err
	}
	sealedPassword, err := p.Encrypt(a.Proxy.Password)
	if err != nil {
		return Account{}, err
	}
	sealedKey, err := p.Encrypt(a.Translation.APIKey)
	if err != nil {
		return Account{}, err
	}
	a.Proxy.Password = sealedPassword
	a.Translation.APIKey = sealedKey
	return a, nil
}

// unsealAccount reverses sealAccount. Caller must hold s.mu.
func (s *Store) unsealAccount(a Account) (Account, error) {
	if s.masterSecret == nil {
		return a, nil
	}
	p, err := secrets.NewProtector(s.masterSecret, a.ID)
	if err != nil {
		return Account{}, err
	}
	plainPassword, err := p.Decrypt(a.Proxy.Password)
	if err != nil {
		return Account{}, err
	}
	plainKey, err := p.Decrypt(a.Translation.APIKey)
	if err != nil {
		return Account{}, err
	}
	a.Proxy.Password = plainPassword
	a.Translation.APIKey = plainKey
	return a, nil
}

func (s *Store) sortedLocked() []Account {
	out := make([]Account, 0, len(s.registry.Accounts))
	for _, a := range s.registry.Accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Get returns the record for id, or (Account{}, false) if absent.
func (s *Store) Get(id string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.registry.Accounts[id]
	return a, ok
}

// Create validates and persists a new record derived from partial, which
// must carry a zero ID to receive a fresh one, or a non-colliding ID to
// request a specific one.
func (s *Store) Create(ctx context.Context, partial Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if partial.ID == "" {
		partial.ID = uuid.New().String()
	} else if _, exists := s.registry.Accounts[partial.ID]; exists {
		return Account{}, hosterrors.DuplicateId(partial.ID)
	}

	now := s.now()
	partial.Order = s.nextOrderLocked()
	partial.CreatedAt = now
	partial.LastActiveAt = now

	if errs := Validate(partial); len(errs) > 0 {
		return Account{}, hosterrors.ValidationError(errs)
	}

	s.registry.Accounts[partial.ID] = partial
	if err := s.persistLocked(); err != nil {
		delete(s.registry.Accounts, partial.ID)
		s.logger.LogRegistryMutation(ctx, "create", partial.ID, err)
		return Account{}, err
	}
	s.logger.LogRegistryMutation(ctx, "create", partial.ID, nil)
	return partial, nil
}

func (s *Store) nextOrderLocked() int {
	max := -1
	for _, a := range s.registry.Accounts {
		if a.Order > max {
			max = a.Order
		}
	}
	return max + 1
}

// Update merges patch onto the existing record for id, revalidates, and
// persists atomically.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.registry.Accounts[id]
	if !ok {
		return Account{}, hosterrors.NotFound("account", id)
	}

	merged := patch.Apply(existing, s.now())
	if errs := Validate(merged); len(errs) > 0 {
		return Account{}, hosterrors.ValidationError(errs)
	}

	prior := s.registry.Accounts[id]
	s.registry.Accounts[id] = merged
	if err := s.persistLocked(); err != nil {
		s.registry.Accounts[id] = prior
		s.logger.LogRegistryMutation(ctx, "update", id, err)
		return Account{}, err
	}
	s.logger.LogRegistryMutation(ctx, "update", id, nil)
	return merged, nil
}

// DeleteOptions controls deletion side effects.
type DeleteOptions struct {
	RetainStorage bool
}

// Delete removes the record for id. If opts.RetainStorage is false, the
// caller is responsible for recursively removing the account's partition
// directory after Delete returns successfully (the Store itself only
// owns the registry, not the partition — see spec §3 "Ownership").
func (s *Store) Delete(ctx context.Context, id string, opts DeleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.registry.Accounts[id]
	if !ok {
		return hosterrors.NotFound("account", id)
	}

	delete(s.registry.Accounts, id)
	if err := s.persistLocked(); err != nil {
		s.registry.Accounts[id] = existing
		s.logger.LogRegistryMutation(ctx, "delete", id, err)
		return err
	}
	s.logger.LogRegistryMutation(ctx, "delete", id, nil)
	return nil
}

// Reorder assigns new Order values from idSequence, which must be a
// permutation of the existing ids.
func (s *Store) Reorder(ctx context.Context, idSequence []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(idSequence) != len(s.registry.Accounts) {
		return hosterrors.ValidationError([]hosterrors.FieldError{
			{Field: "idSequence", Reason: "must be a permutation of all existing account ids"},
		})
	}
	seen := make(map[string]bool, len(idSequence))
	for _, id := range idSequence {
		if _, ok := s.registry.Accounts[id]; !ok {
			return hosterrors.ValidationError([]hosterrors.FieldError{
				{Field: "idSequence", Reason: fmt.Sprintf("unknown account id %q", id)},
			})
		}
		if seen[id] {
			return hosterrors.ValidationError([]hosterrors.FieldError{
				{Field: "idSequence", Reason: fmt.Sprintf("duplicate account id %q", id)},
			})
		}
		seen[id] = true
	}

	prior := s.cloneAccountsLocked()
	for i, id := range idSequence {
		a := s.registry.Accounts[id]
		a.Order = i
		s.registry.Accounts[id] = a
	}
	if err := s.persistLocked(); err != nil {
		s.registry.Accounts = prior
		s.logger.LogRegistryMutation(ctx, "reorder", "", err)
		return err
	}
	s.logger.LogRegistryMutation(ctx, "reorder", "", nil)
	return nil
}

func (s *Store) cloneAccountsLocked() map[string]Account {
	out := make(map[string]Account, len(s.registry.Accounts))
	for k, v := range s.registry.Accounts {
		out[k] = v
	}
	return out
}

// persistLocked writes the full registry snapshot to a temporary path and
// renames it over the canonical path (spec §4.1 "Atomicity"). Caller must
// hold s.mu.
func (s *Store) persistLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return hosterrors.Wrap(hosterrors.CategoryStoreCorrupt, "failed to create registry directory", http.StatusInternalServerError, err)
	}

	onDisk := s.registry
	if s.masterSecret != nil {
		sealedAccounts := make(map[string]Account, len(s.registry.Accounts))
		for id, a := range s.registry.Accounts {
			sealed, err := s.sealAccount(a)
			if err != nil {
				return hosterrors.StoreCorrupt(err)
			}
			sealedAccounts[id] = sealed
		}
		onDisk.Accounts = sealedAccounts
	}

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return hosterrors.StoreCorrupt(err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return hosterrors.StoreCorrupt(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return hosterrors.StoreCorrupt(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return hosterrors.StoreCorrupt(err)
	}
	if err := tmp.Close(); err != nil {
		return hosterrors.StoreCorrupt(err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return hosterrors.StoreCorrupt(err)
	}
	return nil
}

// ReplaceAll overwrites the entire in-memory+on-disk registry, used only
// by the Migration Engine's Persist step.
func (s *Store) ReplaceAll(version string, accounts map[string]Account, migratedAt *time.Time, migratedFrom *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.registry
	s.registry = registryFile{
		Version:      version,
		Accounts:     accounts,
		MigratedAt:   migratedAt,
		MigratedFrom: migratedFrom,
	}
	if err := s.persistLocked(); err != nil {
		s.registry = prior
		return err
	}
	return nil
}

// Version returns the registry's current schema version.
func (s *Store) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Version
}
