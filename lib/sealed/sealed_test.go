// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/clawline/clawline/lib/secret"
)

func generateKeypair(t *testing.T) *Keypair {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}

func TestGenerateKeypair(t *testing.T) {
	keypair := generateKeypair(t)

	if !strings.HasPrefix(keypair.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Error("private key missing AGE-SECRET-KEY-1 prefix")
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", keypair.PublicKey)
	}
}

func TestGenerateKeypair_Unique(t *testing.T) {
	first := generateKeypair(t)
	second := generateKeypair(t)

	if first.PrivateKey.Equal(second.PrivateKey) {
		t.Error("two generated keypairs have identical private keys")
	}
	if first.PublicKey == second.PublicKey {
		t.Error("two generated keypairs have identical public keys")
	}
}

func TestEncryptDecrypt_SingleRecipient(t *testing.T) {
	keypair := generateKeypair(t)

	plaintext := []byte("hello, device registry")
	ciphertext, err := Encrypt(plaintext, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	if _, err := base64.StdEncoding.DecodeString(ciphertext); err != nil {
		t.Errorf("Encrypt() returned invalid base64: %v", err)
	}

	decrypted, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	defer decrypted.Close()
	if !decrypted.EqualBytes(plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted.Bytes(), plaintext)
	}
}

func TestEncryptDecrypt_MultipleRecipients(t *testing.T) {
	// The export path encrypts to the receiving daemon's key plus the
	// operator's escrow key; either must decrypt independently.
	daemon := generateKeypair(t)
	escrow := generateKeypair(t)

	plaintext := []byte(`{"devices":{"d1":{"userId":"ada","name":"pixel"}}}`)
	ciphertext, err := Encrypt(plaintext, []string{daemon.PublicKey, escrow.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	for name, keypair := range map[string]*Keypair{"daemon": daemon, "escrow": escrow} {
		decrypted, err := Decrypt(ciphertext, keypair.PrivateKey)
		if err != nil {
			t.Fatalf("Decrypt(%s) error: %v", name, err)
		}
		if !decrypted.EqualBytes(plaintext) {
			t.Errorf("Decrypt(%s) = %q, want %q", name, decrypted.Bytes(), plaintext)
		}
		decrypted.Close()
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	keypair := generateKeypair(t)
	wrongKeypair := generateKeypair(t)

	ciphertext, err := Encrypt([]byte("secret data"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	if _, err := Decrypt(ciphertext, wrongKeypair.PrivateKey); err == nil {
		t.Error("Decrypt() with wrong key should return error")
	}
}

func TestEncrypt_NoRecipients(t *testing.T) {
	_, err := Encrypt([]byte("data"), nil)
	if err == nil {
		t.Fatal("Encrypt() with no recipients should return error")
	}
	if !strings.Contains(err.Error(), "at least one recipient") {
		t.Errorf("error = %v, want 'at least one recipient'", err)
	}
}

func TestEncrypt_InvalidRecipientKey(t *testing.T) {
	_, err := Encrypt([]byte("data"), []string{"not-a-valid-key"})
	if err == nil {
		t.Fatal("Encrypt() with invalid recipient key should return error")
	}
	if !strings.Contains(err.Error(), "parsing recipient key") {
		t.Errorf("error = %v, want 'parsing recipient key'", err)
	}
}

func TestDecrypt_InvalidPrivateKey(t *testing.T) {
	keypair := generateKeypair(t)
	ciphertext, err := Encrypt([]byte("data"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	junk, err := secret.NewFromBytes([]byte("not-a-valid-private-key"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer junk.Close()

	_, err = Decrypt(ciphertext, junk)
	if err == nil {
		t.Fatal("Decrypt() with invalid private key should return error")
	}
	if !strings.Contains(err.Error(), "parsing private key") {
		t.Errorf("error = %v, want 'parsing private key'", err)
	}
}

func TestDecrypt_InvalidBase64(t *testing.T) {
	keypair := generateKeypair(t)

	_, err := Decrypt("not-valid-base64!!!", keypair.PrivateKey)
	if err == nil {
		t.Fatal("Decrypt() with invalid base64 should return error")
	}
	if !strings.Contains(err.Error(), "decoding base64") {
		t.Errorf("error = %v, want 'decoding base64'", err)
	}
}

func TestDecrypt_CorruptedCiphertext(t *testing.T) {
	keypair := generateKeypair(t)

	corrupted := base64.StdEncoding.EncodeToString([]byte("this is not age ciphertext"))
	if _, err := Decrypt(corrupted, keypair.PrivateKey); err == nil {
		t.Error("Decrypt() with corrupted ciphertext should return error")
	}
}

func TestEncryptDecrypt_LargeBundle(t *testing.T) {
	keypair := generateKeypair(t)

	// A registry with many devices is still well under a megabyte;
	// 64 KiB exercises age's chunking.
	large := make([]byte, 64*1024)
	for i := range large {
		large[i] = byte(i % 256)
	}

	ciphertext, err := Encrypt(large, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt(large) error: %v", err)
	}

	decrypted, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt(large) error: %v", err)
	}
	defer decrypted.Close()
	if !decrypted.EqualBytes(large) {
		t.Error("Decrypt(large) does not match original")
	}
}

func TestRegistryBundleRoundTrip(t *testing.T) {
	// The full export lifecycle: marshal the registry, encrypt,
	// decrypt, unmarshal.
	keypair := generateKeypair(t)

	registry := map[string]map[string]string{
		"device-1": {"userId": "ada", "name": "pixel"},
		"device-2": {"userId": "grace", "name": "tablet"},
	}
	payload, err := json.Marshal(registry)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	ciphertext, err := Encrypt(payload, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	decrypted, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	defer decrypted.Close()

	var restored map[string]map[string]string
	if err := json.Unmarshal(decrypted.Bytes(), &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if restored["device-1"]["userId"] != "ada" || restored["device-2"]["name"] != "tablet" {
		t.Errorf("restored registry = %+v", restored)
	}
}

func TestParsePublicKey(t *testing.T) {
	keypair := generateKeypair(t)

	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Errorf("ParsePublicKey(valid) error: %v", err)
	}
	if err := ParsePublicKey("not-a-valid-key"); err == nil {
		t.Error("ParsePublicKey(invalid) should return error")
	}
	if err := ParsePublicKey(""); err == nil {
		t.Error("ParsePublicKey(empty) should return error")
	}
}

func TestParsePrivateKey(t *testing.T) {
	keypair := generateKeypair(t)

	if err := ParsePrivateKey(keypair.PrivateKey); err != nil {
		t.Errorf("ParsePrivateKey(valid) error: %v", err)
	}

	junk, err := secret.NewFromBytes([]byte("garbage"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer junk.Close()
	if err := ParsePrivateKey(junk); err == nil {
		t.Error("ParsePrivateKey(invalid) should return error")
	}
}
