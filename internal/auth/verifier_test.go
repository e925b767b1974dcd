package auth

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/base64"
    "testing"
)

func signHS256(t *testing.T, secret, payload string) string {
    t.Helper()
    enc := base64.RawURLEncoding
    header := enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
    body := enc.EncodeToString([]byte(payload))
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write([]byte(header + "." + body))
    return header + "." + body + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestVerifyDevToken(t *testing.T) {
    v := New("dev", "")
    p, err := v.Verify("u_123:Admin")
    if err != nil { t.Fatalf("verify: %v", err) }
    if p.UserID != "u_123" || !p.IsAdmin() { t.Fatalf("principal: %+v", p) }

    if _, err := v.Verify("garbage"); err == nil { t.Fatalf("expected error for malformed dev token") }
}

func TestVerifyHMAC(t *testing.T) {
    v := New("hmac", "s3cret")
    tok := signHS256(t, "s3cret", `{"sub":"u_9","role":"user"}`)
    p, err := v.Verify(tok)
    if err != nil { t.Fatalf("verify: %v", err) }
    if p.UserID != "u_9" || p.Role != "user" { t.Fatalf("principal: %+v", p) }

    bad := signHS256(t, "wrong", `{"sub":"u_9"}`)
    if _, err := v.Verify(bad); err == nil { t.Fatalf("expected bad signature") }

    noSub := signHS256(t, "s3cret", `{"role":"admin"}`)
    if _, err := v.Verify(noSub); err == nil { t.Fatalf("expected missing subject") }
}
