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

package tpm2

import (
	"encoding/pem"
	"fmt"

	"github.com/google/go-tpm/tpm2"
)

const (
	// PEMTypePublic is the PEM block type of the marshalled TPM2B_PUBLIC
	PEMTypePublic = "TPM2 PUBLIC"

	// PEMTypePrivate is the PEM block type of the marshalled TPM2B_PRIVATE
	PEMTypePrivate = "TPM2 PRIVATE"
)

// EncodeKeyFile encodes a key blob as two PEM blocks
func EncodeKeyFile(public tpm2.TPM2BPublic, private tpm2.TPM2BPrivate) []byte {
	out := pem.EncodeToMemory(&pem.Block{
		Type:  PEMTypePublic,
		Bytes: tpm2.Marshal(public),
	})
	return append(out, pem.EncodeToMemory(&pem.Block{
		Type:  PEMTypePrivate,
		Bytes: tpm2.Marshal(private),
	})...)
}

// DecodeKeyFile parses a key blob produced by EncodeKeyFile
func DecodeKeyFile(data []byte) (*tpm2.TPM2BPublic, *tpm2.TPM2BPrivate, error) {
	var public *tpm2.TPM2BPublic
	var private *tpm2.TPM2BPrivate

	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case PEMTypePublic:
			pub, err := tpm2.Unmarshal[tpm2.TPM2BPublic](block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: public area: %v", ErrInvalidKeyFile, err)
			}
			public = pub
		case PEMTypePrivate:
			priv, err := tpm2.Unmarshal[tpm2.TPM2BPrivate](block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: private area: %v", ErrInvalidKeyFile, err)
			}
			private = priv
		}
	}

	if public == nil || private == nil {
		return nil, nil, ErrInvalidKeyFile
	}
	return public, private, nil
}
