package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alanyoungcy/tarbot/internal/crypto"
)

func TestSealSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coinbase.secret")
	if err := sealSecret(strings.NewReader("c2VjcmV0\r\nhunter2\n"), path); err != nil {
		t.Fatalf("sealSecret: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o", perm)
	}
	got, err := crypto.LoadSecret(crypto.SecretConfig{EncryptedPath: path, Password: "hunter2"})
	if err != nil || got != "c2VjcmV0" {
		t.Fatalf("LoadSecret = %q, %v", got, err)
	}

	if err := sealSecret(strings.NewReader("only-one-line\n"), path); err == nil {
		t.Fatal("missing password accepted")
	}
}
