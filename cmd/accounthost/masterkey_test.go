package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateMasterKey_PersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	key1, err := loadOrCreateMasterKey(dir)
	if err != nil {
		t.Fatalf("loadOrCreateMasterKey() error = %v", err)
	}
	if len(key1) != 32 {
		t.Fatalf("len(key) = %d, want 32", len(key1))
	}

	key2, err := loadOrCreateMasterKey(dir)
	if err != nil {
		t.Fatalf("second loadOrCreateMasterKey() error = %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Fatal("expected the same master key to be reloaded from disk")
	}
}

func TestLoadOrCreateMasterKey_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(masterKeyEnvVar, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")

	key, err := loadOrCreateMasterKey(dir)
	if err != nil {
		t.Fatalf("loadOrCreateMasterKey() error = %v", err)
	}
	if len(key) == 0 {
		t.Fatal("expected a decoded key from the env override")
	}

	if _, err := os.Stat(filepath.Join(dir, "master.key")); !os.IsNotExist(err) {
		t.Fatal("env override must not write a master.key file")
	}
}
