// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-platid.
//
// go-platid is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package validation

import (
	"strings"
	"testing"
)

func TestValidateEngineID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"tpm2", "tpm2", false},
		{"valid with dash", "tpm2-sim", false},
		{"valid single char", "a", false},

		{"empty string", "", true},
		{"null byte", "tpm2\x00", true},
		{"uppercase", "TPM2", true},
		{"underscore", "tpm_2", true},
		{"dot", "tpm.2", true},
		{"space", "tpm 2", true},
		{"path traversal", "../tpm2", true},
		{"absolute path", "/tpm2", true},
		{"control character", "tpm2\n", true},
		{"too long", strings.Repeat("a", 65), true},
		{"del character", "tpm2\x7f", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEngineID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEngineID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"absolute", "/etc/tnc/platid/key.pem", false},
		{"relative", "key.pem", false},
		{"persistent handle label", "0x81000002", false},
		{"with spaces", "/etc/tnc/my key.pem", false},

		{"empty", "", true},
		{"null byte", "/etc/key\x00.pem", true},
		{"newline", "/etc/key.pem\nINFO: fake", true},
		{"carriage return", "/etc/key.pem\r", true},
		{"del character", "/etc/key\x7f", true},
		{"too long", "/" + strings.Repeat("a", 4096), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"clean string", "hello world", "hello world"},
		{"with newline", "hello\nworld", "helloworld"},
		{"with tab", "hello\tworld", "helloworld"},
		{"with null byte", "hello\x00world", "helloworld"},
		{"with del character", "hello\x7fworld", "helloworld"},
		{"with multiple controls", "hello\n\r\t\x00world", "helloworld"},
		{"very long string", strings.Repeat("a", 1500), strings.Repeat("a", 1000) + "...[truncated]"},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeForLog(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func BenchmarkValidateEngineID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = ValidateEngineID("tpm2")
	}
}

func BenchmarkSanitizeForLog(b *testing.B) {
	input := "hello world with some text"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = SanitizeForLog(input)
	}
}
