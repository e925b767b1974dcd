// Package auth provides bearer token verification for the HTTP surface.
package auth

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/base64"
    "encoding/json"
    "errors"
    "os"
    "strings"
)

// Verifier validates bearer tokens and extracts the caller identity.
// Modes: dev (token is "userID:role", no crypto) and hmac (HS256 JWT).
type Verifier struct {
    Mode       string
    HMACSecret []byte
    UserClaim  string
    RoleClaim  string
}

type Principal struct {
    UserID string
    Role   string // admin or user
}

func (p Principal) IsAdmin() bool { return p.Role == "admin" }

func NewVerifierFromEnv() *Verifier {
    mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
    if mode == "" {
        mode = "dev"
    }
    return New(mode, os.Getenv("AUTH_HMAC_SECRET"))
}

func New(mode, hmacSecret string) *Verifier {
    return &Verifier{
        Mode:       mode,
        HMACSecret: []byte(hmacSecret),
        UserClaim:  "sub",
        RoleClaim:  "role",
    }
}

func (v *Verifier) Verify(token string) (Principal, error) {
    if v.Mode == "dev" {
        // token format: userID:role
        parts := strings.SplitN(token, ":", 2)
        if len(parts) == 2 && parts[0] != "" {
            return Principal{UserID: parts[0], Role: strings.ToLower(parts[1])}, nil
        }
        return Principal{}, errors.New("invalid dev token; expected userID:role")
    }
    if v.Mode != "hmac" {
        return Principal{}, errors.New("unsupported auth mode")
    }
    segs := strings.Split(token, ".")
    if len(segs) != 3 {
        return Principal{}, errors.New("invalid JWT")
    }
    headerJSON, err := b64urlDecode(segs[0])
    if err != nil {
        return Principal{}, err
    }
    payloadJSON, err := b64urlDecode(segs[1])
    if err != nil {
        return Principal{}, err
    }
    sig, err := b64urlDecode(segs[2])
    if err != nil {
        return Principal{}, err
    }
    var hdr map[string]any
    if err := json.Unmarshal(headerJSON, &hdr); err != nil {
        return Principal{}, err
    }
    if alg, _ := hdr["alg"].(string); alg != "HS256" {
        return Principal{}, errors.New("unsupported alg")
    }
    mac := hmac.New(sha256.New, v.HMACSecret)
    mac.Write([]byte(segs[0] + "." + segs[1]))
    if !hmac.Equal(mac.Sum(nil), sig) {
        return Principal{}, errors.New("bad signature")
    }
    var claims map[string]any
    if err := json.Unmarshal(payloadJSON, &claims); err != nil {
        return Principal{}, err
    }
    user, _ := claims[v.UserClaim].(string)
    role, _ := claims[v.RoleClaim].(string)
    if user == "" {
        return Principal{}, errors.New("missing subject claim")
    }
    if role == "" {
        role = "user"
    }
    return Principal{UserID: user, Role: strings.ToLower(role)}, nil
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
