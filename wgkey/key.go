// Package wgkey defines the value types for WireGuard private/public keys
// and peer endpoints.
package wgkey

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const redacted = "[redacted]"

// PrivateKey is a 32-byte Curve25519 scalar. It never prints its bytes:
// String (the fmt.Stringer path) and MarshalJSON both return the fixed
// "[redacted]" marker.
type PrivateKey struct {
	key wgtypes.Key
	set bool
}

// PublicKey is a 32-byte Curve25519 point, safe to log and transmit.
type PublicKey struct {
	key wgtypes.Key
	set bool
}

// GeneratePrivateKey returns a fresh random private key.
func GeneratePrivateKey() (PrivateKey, error) {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return PrivateKey{}, fmt.Errorf("generating private key: %w", err)
	}
	return PrivateKey{key: k, set: true}, nil
}

// ParsePrivateKey decodes a base64-encoded 32-byte private key.
func ParsePrivateKey(s string) (PrivateKey, error) {
	k, err := wgtypes.ParseKey(s)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("parsing private key: invalid encoding")
	}
	return PrivateKey{key: k, set: true}, nil
}

// ParsePublicKey decodes a base64-encoded 32-byte public key.
func ParsePublicKey(s string) (PublicKey, error) {
	k, err := wgtypes.ParseKey(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("parsing public key: invalid encoding")
	}
	return PublicKey{key: k, set: true}, nil
}

// IsSet reports whether the key holds material, as opposed to the zero value.
func (k PrivateKey) IsSet() bool { return k.set }

// IsSet reports whether the key holds material, as opposed to the zero value.
func (k PublicKey) IsSet() bool { return k.set }

// Public derives the public key for this private key.
func (k PrivateKey) Public() PublicKey {
	return PublicKey{key: k.key.PublicKey(), set: k.set}
}

// Bytes returns the raw 32 bytes. Callers must not retain the slice past
// a call to Zero.
func (k PrivateKey) Bytes() [32]byte { return [32]byte(k.key) }

// Bytes returns the raw 32 bytes of the public key.
func (k PublicKey) Bytes() [32]byte { return [32]byte(k.key) }

// Equal performs a constant-time comparison, appropriate for key material.
func (k PrivateKey) Equal(other PrivateKey) bool {
	a, b := k.key, other.key
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// Equal compares two public keys. Public keys are not secret, so this
// need not be constant-time, but it costs nothing to keep it so.
func (k PublicKey) Equal(other PublicKey) bool {
	a, b := k.key, other.key
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// Zero overwrites the private key material in place. Call this when the
// key is no longer needed — on Tunnel.Stop and on config replacement.
func (k *PrivateKey) Zero() {
	for i := range k.key {
		k.key[i] = 0
	}
	k.set = false
}

// String returns the base64 wire representation of a public key.
func (k PublicKey) String() string {
	if !k.set {
		return ""
	}
	return k.key.String()
}

// String never returns private key material. Use this implicitly via
// fmt/log formatting — it is the reason PrivateKey must never be passed
// to a logger by value through an interface that bypasses Stringer.
func (k PrivateKey) String() string {
	return redacted
}

// HexLower returns the lowercase hex encoding wireguard-go's UAPI
// protocol expects for private_key=/public_key=/preshared_key= lines.
func (k PrivateKey) HexLower() string {
	return fmt.Sprintf("%x", [32]byte(k.key))
}

// HexLower returns the lowercase hex encoding wireguard-go's UAPI
// protocol expects for public_key= lines.
func (k PublicKey) HexLower() string {
	return fmt.Sprintf("%x", [32]byte(k.key))
}

// MarshalJSON renders a private key as the redaction marker: configs are
// never serialized back out with real key material.
func (k PrivateKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// MarshalJSON renders a public key as its base64 wire form.
func (k PublicKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// ParsePublicKeyHex decodes the lowercase-hex form wireguard-go's UAPI
// protocol uses for public_key= lines in IpcGet output.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return PublicKey{}, fmt.Errorf("invalid hex public key")
	}
	var k wgtypes.Key
	copy(k[:], raw)
	return PublicKey{key: k, set: true}, nil
}

// Endpoint is a peer's configured or learned UDP socket address.
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) String() string {
	if e.Host == "" {
		return ""
	}
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

// IsZero reports whether the endpoint carries no address.
func (e Endpoint) IsZero() bool { return e.Host == "" }

// ParseEndpoint parses a "host:port" string, accepting both hostnames
// and literal IPv4/IPv6 addresses.
func ParseEndpoint(s string) (Endpoint, error) {
	if s == "" {
		return Endpoint{}, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port == 0 {
		return Endpoint{}, fmt.Errorf("invalid endpoint port %q", portStr)
	}
	return Endpoint{Host: host, Port: port}, nil
}
