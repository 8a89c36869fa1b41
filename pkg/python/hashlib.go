// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package python

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
)

// HashlibAlgorithmsGuaranteed is Python `hashlib.algorithms_guaranteed`.
//
//nolint:gochecknoglobals // Would be 'const'.
var HashlibAlgorithmsGuaranteed = map[string]func() hash.Hash{
	// This list is (sans the SHA-3 family and BLAKE2) in-sync with Python 3.9.9.
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// NewHash returns a new hash.Hash for the named hashlib algorithm.
func NewHash(algo string) (hash.Hash, error) {
	newHasher, ok := HashlibAlgorithmsGuaranteed[algo]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %q", algo)
	}
	return newHasher(), nil
}
