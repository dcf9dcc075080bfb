package signature

import "testing"

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"event":"conversion","player_id":"p1"}`)
	sig := SignHMAC(body, "secret")

	if !VerifyHMAC(body, sig, "secret") {
		t.Fatal("expected valid signature to verify")
	}
	if VerifyHMAC(body, sig, "other-secret") {
		t.Fatal("expected wrong secret to fail")
	}
	if VerifyHMAC([]byte(`{"event":"conversion","player_id":"p2"}`), sig, "secret") {
		t.Fatal("expected tampered body to fail")
	}
	if VerifyHMAC(body, "", "secret") {
		t.Fatal("expected empty signature to fail")
	}
	if VerifyHMAC(body, sig, "") {
		t.Fatal("expected empty secret to fail")
	}
}

func TestVerifyHMACCaseInsensitive(t *testing.T) {
	body := []byte("payload")
	sig := SignHMAC(body, "secret")

	upper := ""
	for _, r := range sig {
		if r >= 'a' && r <= 'f' {
			r = r - 'a' + 'A'
		}
		upper += string(r)
	}

	if !VerifyHMAC(body, upper, "secret") {
		t.Fatal("expected uppercase hex signature to verify")
	}
}

func TestTransactionHashMD5(t *testing.T) {
	// md5("T1-secret")
	got, err := TransactionHash("T1", "secret", DigestMD5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "2ca668a59d83cecf4ac45214f0e0b47e"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestVerifyTransactionHash(t *testing.T) {
	hash, err := TransactionHash("T1", "secret", DigestMD5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !VerifyTransactionHash("T1", hash, "secret", DigestMD5) {
		t.Fatal("expected valid hash to verify")
	}
	if VerifyTransactionHash("T2", hash, "secret", DigestMD5) {
		t.Fatal("expected hash bound to another transaction id to fail")
	}
	if VerifyTransactionHash("T1", hash, "wrong", DigestMD5) {
		t.Fatal("expected wrong secret to fail")
	}
	if VerifyTransactionHash("T1", "", "secret", DigestMD5) {
		t.Fatal("expected empty hash to fail")
	}
}

func TestNormalizeDigest(t *testing.T) {
	if d, err := NormalizeDigest(" md5 "); err != nil || d != DigestMD5 {
		t.Fatalf("expected MD5, got %q err %v", d, err)
	}
	if d, err := NormalizeDigest("sha256"); err != nil || d != DigestSHA256 {
		t.Fatalf("expected SHA256, got %q err %v", d, err)
	}
	if _, err := NormalizeDigest("sha1"); err == nil {
		t.Fatal("expected unsupported digest error")
	}
}
