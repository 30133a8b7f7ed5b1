package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const masterKeyEnvVar = "SESSIONHOST_MASTER_KEY"

// loadOrCreateMasterKey resolves the 32-byte master secret that protects
// proxy credentials at rest (internal/secrets.Protector). It prefers the
// SESSIONHOST_MASTER_KEY environment variable (base64), and otherwise
// persists a freshly generated key under dataDir so that restarts can
// still decrypt previously stored credentials.
func loadOrCreateMasterKey(dataDir string) ([]byte, error) {
	if raw := strings.TrimSpace(os.Getenv(masterKeyEnvVar)); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", masterKeyEnvVar, err)
		}
		return key, nil
	}

	path := filepath.Join(dataDir, "master.key")
	if data, err := os.ReadFile(path); err == nil {
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode stored master key %s: %w", path, err)
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key %s: %w", path, err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("persist master key %s: %w", path, err)
	}
	return key, nil
}
