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
	"testing"

	"github.com/zalando/go-keyring"
)

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if len(a) < 40 {
		t.Errorf("token too short: %d chars", len(a))
	}
	if a == b {
		t.Error("two tokens should never collide")
	}
}

func TestLoadOrCreateTokenIsStable(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()

	first, err := LoadOrCreateToken(dir)
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	second, err := LoadOrCreateToken(dir)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}

	if first == "" {
		t.Fatal("empty token")
	}
	if first != second {
		t.Error("token must survive reloads")
	}
}

func TestTokenFileFallback(t *testing.T) {
	dir := t.TempDir()

	if err := writeTokenFile(dir, "abc123"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got, err := readTokenFile(dir)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != "abc123" {
		t.Errorf("token = %q", got)
	}
}
