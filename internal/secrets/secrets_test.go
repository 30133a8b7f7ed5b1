package secrets

import "testing"

func TestProtector_RoundTrip(t *testing.T) {
	p, err := NewProtector([]byte("a sufficiently long master secret"), "account-1")
	if err != nil {
		t.Fatalf("NewProtector() error = %v", err)
	}

	sealed, err := p.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if sealed == "hunter2" || sealed == "" {
		t.Fatalf("Encrypt() returned unsealed or empty value: %q", sealed)
	}

	plain, err := p.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain != "hunter2" {
		t.Errorf("Decrypt() = %q, want hunter2", plain)
	}
}

func TestProtector_EmptyPlaintextRoundTrips(t *testing.T) {
	p, err := NewProtector([]byte("a sufficiently long master secret"), "account-1")
	if err != nil {
		t.Fatalf("NewProtector() error = %v", err)
	}

	sealed, err := p.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if sealed != "" {
		t.Errorf("Encrypt(\"\") = %q, want empty", sealed)
	}

	plain, err := p.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain != "" {
		t.Errorf("Decrypt() = %q, want empty", plain)
	}
}

func TestProtector_DifferentAccountsProduceDifferentCiphertext(t *testing.T) {
	master := []byte("a sufficiently long master secret")
	p1, _ := NewProtector(master, "account-1")
	p2, _ := NewProtector(master, "account-2")

	s1, err := p1.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := p2.Decrypt(s1); err == nil {
		t.Error("expected account-2's protector to fail to decrypt account-1's ciphertext")
	}
}

func TestProtector_TamperedCiphertextFailsToDecrypt(t *testing.T) {
	p, _ := NewProtector([]byte("a sufficiently long master secret"), "account-1")
	sealed, err := p.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tampered := sealed[:len(sealed)-2] + "AA"
	if _, err := p.Decrypt(tampered); err == nil {
		t.Error("expected tampered ciphertext to fail to decrypt")
	}
}
