package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const apiTokenAccount = "api_token"

type keychainStore interface {
	keychain
	Set(service, account, value string) error
}

type keychainWriter struct{ keychainReader }

func (keychainWriter) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token for the local HTTP API, creating and
// persisting a random one on first use.
func GetAPIToken() (string, error) {
	return apiTokenWith(keychainWriter{})
}

func apiTokenWith(kc keychainStore) (string, error) {
	if tok, err := kc.Get(keychainService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
