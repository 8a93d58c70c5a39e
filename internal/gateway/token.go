// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the OS keychain service name for the gateway token.
	keyringService = "dcshell"

	// keyringUser is the keychain account name.
	keyringUser = "gateway-token"

	// tokenBytes is the number of random bytes in an auth token.
	tokenBytes = 32

	// tokenFileName is the fallback token file when no keychain is available.
	tokenFileName = "gateway.token"
)

// GenerateToken generates a cryptographically secure random token,
// base64url-encoded without padding.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// LoadOrCreateToken returns the persisted gateway token, creating one on
// first use. The OS keychain is preferred; a 0600 file under configDir is
// the fallback for headless machines.
func LoadOrCreateToken(configDir string) (string, error) {
	if token, err := keyring.Get(keyringService, keyringUser); err == nil && token != "" {
		return token, nil
	}

	if token, err := readTokenFile(configDir); err == nil && token != "" {
		return token, nil
	}

	token, err := GenerateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate gateway token: %w", err)
	}

	if err := keyring.Set(keyringService, keyringUser, token); err == nil {
		return token, nil
	}

	if err := writeTokenFile(configDir, token); err != nil {
		return "", fmt.Errorf("failed to persist gateway token: %w", err)
	}
	return token, nil
}

func readTokenFile(configDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(configDir, tokenFileName))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func writeTokenFile(configDir string, token string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir, tokenFileName), []byte(token+"\n"), 0o600)
}
