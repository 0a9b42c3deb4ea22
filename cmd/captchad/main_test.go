package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"
)

func TestKeyFromHex(t *testing.T) {
	seed := strings.Repeat("ab", ed25519.SeedSize)

	for _, tt := range []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid seed", input: seed},
		{name: "not hex", input: strings.Repeat("zz", ed25519.SeedSize), wantErr: true},
		{name: "too short", input: seed[:10], wantErr: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			priv, err := keyFromHex(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr %v, got %v", tt.wantErr, err)
			}

			if tt.wantErr {
				return
			}

			raw, _ := hex.DecodeString(tt.input)
			if !priv.Equal(ed25519.NewKeyFromSeed(raw)) {
				t.Error("key does not match its seed")
			}
		})
	}
}

func TestParseBindNetFromAddr(t *testing.T) {
	for _, tt := range []struct {
		address string
		network string
		addr    string
	}{
		{address: ":8923", network: "tcp", addr: "localhost:8923"},
		{address: "127.0.0.1:8923", network: "tcp", addr: "127.0.0.1:8923"},
		{address: "unix:///run/captchad.sock", network: "unix", addr: "/run/captchad.sock"},
	} {
		t.Run(tt.address, func(t *testing.T) {
			network, addr := parseBindNetFromAddr(tt.address)
			if network != tt.network || addr != tt.addr {
				t.Errorf("got (%q, %q), want (%q, %q)", network, addr, tt.network, tt.addr)
			}
		})
	}
}
