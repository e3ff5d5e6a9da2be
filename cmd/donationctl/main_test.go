package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"charityledger/crypto"
	"charityledger/native/bank"
)

func TestAddressCommand(t *testing.T) {
	var out bytes.Buffer
	if err := runAddress([]string{"--campaign", "3"}, &out); err != nil {
		t.Fatalf("address: %v", err)
	}
	if got, want := strings.TrimSpace(out.String()), bank.FormatCustody(bank.CampaignAddress(3)); got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if !strings.HasPrefix(out.String(), "chrtc1") {
		t.Fatalf("expected custody prefix, got %s", out.String())
	}

	out.Reset()
	if err := runAddress([]string{"--service"}, &out); err != nil {
		t.Fatalf("service address: %v", err)
	}
	if err := runAddress(nil, &out); err == nil {
		t.Fatal("expected error without selector")
	}
	if err := runAddress([]string{"--service", "--campaign", "1"}, &out); err == nil {
		t.Fatal("expected error for conflicting selectors")
	}
}

func TestKeygenThenResolveFromKeystore(t *testing.T) {
	t.Setenv(defaultPassEnv, "correct horse battery")
	path := filepath.Join(t.TempDir(), "caller.keystore")

	var out bytes.Buffer
	if err := runKeygen([]string{"--keystore", path, "--light"}, &out); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if err := runKeygen([]string{"--keystore", path, "--light"}, &out); err == nil {
		t.Fatal("expected refusal to overwrite")
	}

	caller, err := resolveCaller("", path, defaultPassEnv)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(out.String(), crypto.FormatAddress(caller)) {
		t.Fatalf("keygen output %q does not mention %s", out.String(), crypto.FormatAddress(caller))
	}

	if _, err := resolveCaller(crypto.FormatAddress(caller), path, defaultPassEnv); err == nil {
		t.Fatal("expected error for both selectors")
	}
	if _, err := resolveCaller("", "", defaultPassEnv); err == nil {
		t.Fatal("expected error for no selector")
	}
}
