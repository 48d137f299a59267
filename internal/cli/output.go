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

package cli

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-platid/pkg/platid"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// PrintSignature prints a locally produced signature (hex encoded)
func (p *Printer) PrintSignature(backend string, nonce, signature []byte) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"backend":   backend,
			"nonce":     hex.EncodeToString(nonce),
			"signature": hex.EncodeToString(signature),
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, hex.EncodeToString(signature))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintChallenge prints the certificate and signature received from a responder
func (p *Printer) PrintChallenge(certificate string, nonce, signature []byte) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"certificate": certificate,
			"nonce":       hex.EncodeToString(nonce),
			"signature":   hex.EncodeToString(signature),
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, certificate)
		fmt.Fprintf(p.writer, "Nonce:     %s\n", hex.EncodeToString(nonce))
		fmt.Fprintf(p.writer, "Signature: %s\n", hex.EncodeToString(signature))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintConfig prints a parsed responder configuration
func (p *Printer) PrintConfig(path string, cfg *platid.Config) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"file":             path,
			"use_wks":          cfg.UseWellKnownSecret,
			"private_key_file": cfg.PrivateKeyFile,
			"certificate_file": cfg.CertificateFile,
			"engine":           cfg.Engine,
			"tpm_device":       cfg.TPMDevice,
			"srk_handle":       fmt.Sprintf("0x%08x", cfg.SRKHandle),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Configuration %s is valid\n", path)
		fmt.Fprintf(p.writer, "  use_wks:          %t\n", cfg.UseWellKnownSecret)
		fmt.Fprintf(p.writer, "  private_key_file: %s\n", cfg.PrivateKeyFile)
		fmt.Fprintf(p.writer, "  certificate_file: %s\n", cfg.CertificateFile)
		fmt.Fprintf(p.writer, "  engine:           %s\n", cfg.Engine)
		fmt.Fprintf(p.writer, "  tpm_device:       %s\n", cfg.TPMDevice)
		fmt.Fprintf(p.writer, "  srk_handle:       0x%08x\n", cfg.SRKHandle)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
