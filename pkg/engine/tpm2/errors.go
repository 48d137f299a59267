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

import "errors"

var (
	// ErrNotInitialized indicates the engine has no open transport
	ErrNotInitialized = errors.New("tpm2: engine not initialized")

	// ErrOpeningDevice indicates the TPM device could not be opened
	ErrOpeningDevice = errors.New("tpm2: error opening device")

	// ErrRSANotSupported indicates the TPM does not implement RSA
	ErrRSANotSupported = errors.New("tpm2: RSA not supported")

	// ErrInvalidKeyLabel indicates the key label is neither a handle nor a readable key file
	ErrInvalidKeyLabel = errors.New("tpm2: invalid key label")

	// ErrInvalidKeyFile indicates the key file does not contain TPM public and private areas
	ErrInvalidKeyFile = errors.New("tpm2: invalid key file")

	// ErrNotRSAKey indicates the loaded object is not an RSA key
	ErrNotRSAKey = errors.New("tpm2: key is not RSA")

	// ErrKeyClosed indicates the key handle was already released
	ErrKeyClosed = errors.New("tpm2: key closed")

	// ErrUnsupportedHash indicates a signing request that is not a raw private key operation
	ErrUnsupportedHash = errors.New("tpm2: only raw PKCS#1 v1.5 private key operations are supported")

	// ErrMessageTooLong indicates the input does not fit the PKCS#1 v1.5 block
	ErrMessageTooLong = errors.New("tpm2: message too long for RSA key size")

	// ErrSimulatorNotAvailable indicates the binary was built without the tpm_simulator tag
	ErrSimulatorNotAvailable = errors.New("tpm2: simulator not available, rebuild with -tags tpm_simulator")
)
