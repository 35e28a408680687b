package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

func TestHMACSign(t *testing.T) {
	raw := []byte("coinbase-secret")
	auth := HMACAuth{Key: "key-1", Secret: base64.StdEncoding.EncodeToString(raw), Passphrase: "pp"}

	body := []byte(`{"size":"1"}`)
	req := httptest.NewRequest(http.MethodPost, "https://api.example.com/orders?client=x", nil)
	auth.Sign(req, body, time.Unix(1700000000, 0))

	mac := hmac.New(sha256.New, raw)
	mac.Write([]byte(`1700000000POST/orders?client=x{"size":"1"}`))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if got := req.Header.Get("CB-ACCESS-SIGN"); got != want {
		t.Fatalf("sign = %s, want %s", got, want)
	}
	if req.Header.Get("CB-ACCESS-TIMESTAMP") != "1700000000" || req.Header.Get("CB-ACCESS-KEY") != "key-1" || req.Header.Get("CB-ACCESS-PASSPHRASE") != "pp" {
		t.Fatalf("headers = %v", req.Header)
	}
	if s := auth.String(); strings.Contains(s, auth.Secret) || strings.Contains(s, "key-1") {
		t.Fatalf("String leaks credentials: %s", s)
	}
	if (HMACAuth{}).Enabled() {
		t.Fatal("empty credentials reported enabled")
	}
}

func TestSecretFile(t *testing.T) {
	blob, err := EncryptSecret("s3cr3t", "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadSecret(SecretConfig{EncryptedPath: path, Password: "hunter2"})
	if err != nil || got != "s3cr3t" {
		t.Fatalf("LoadSecret = %q, %v", got, err)
	}
	if _, err := LoadSecret(SecretConfig{EncryptedPath: path, Password: "wrong"}); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("wrong password: err = %v", err)
	}
	if got, _ := LoadSecret(SecretConfig{Raw: "plain", EncryptedPath: path}); got != "plain" {
		t.Fatalf("raw secret should win, got %q", got)
	}
	if _, err := EncryptSecret("x", ""); err == nil {
		t.Fatal("empty password should fail")
	}
	if got, err := LoadSecret(SecretConfig{}); got != "" || err != nil {
		t.Fatalf("no secret = %q, %v", got, err)
	}
}

func TestSecretFileTampered(t *testing.T) {
	blob, err := EncryptSecret("s3cr3t", "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	var s sealedSecret
	if err := sonnet.Unmarshal(blob, &s); err != nil {
		t.Fatal(err)
	}
	s.Sealed[len(s.Sealed)-1] ^= 0xff
	tampered, _ := sonnet.Marshal(s)
	if _, err := DecryptSecret(tampered, "hunter2"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("tampered: err = %v", err)
	}

	s.Format = "other"
	foreign, _ := sonnet.Marshal(s)
	if _, err := DecryptSecret(foreign, "hunter2"); err == nil || errors.Is(err, ErrWrongPassword) {
		t.Fatalf("foreign format: err = %v", err)
	}
}
