// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package fingerprint derives the stable identifier of a service configuration.

A fingerprint is either supplied verbatim by the user or computed as the
lowercase hex MD5 of the identity tuple joined with "|". MD5 is used only as
a content address: identical tuples must map to the same cache directory
across processes and reimplementations. It is not a security boundary, and
birthday-bound collisions between distinct tuples are an accepted risk.

	res, err := fingerprint.Resolve(fingerprint.KindS3Bridge, "", []string{"test", "ID", "KEY"})
	// res.Fingerprint == "50da709fdb20cf097cfa452ac2ae13cb"
*/
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidInputCombination is returned when both or neither of a
	// fingerprint and an identity tuple are supplied.
	ErrInvalidInputCombination = errors.New("supply either the fingerprint of an already configured service or a complete identifier for a new one")

	// ErrIncompleteParameters is returned when an identity tuple has empty elements.
	ErrIncompleteParameters = errors.New("not all arguments required to produce a unique fingerprint were provided")
)

// TupleSeparator joins identity tuple elements before hashing.
const TupleSeparator = "|"

// Resolution is the outcome of resolving user input to a fingerprint.
type Resolution struct {
	Kind        Kind
	Fingerprint string

	// ByHandle is true when the fingerprint was supplied verbatim; the
	// directory must then already exist.
	ByHandle bool
}

// RelPath returns the fingerprint directory relative to the cache root.
func (r Resolution) RelPath() string {
	parts := append(append([]string(nil), r.Kind.Spec().Segments...), r.Fingerprint)
	return filepath.Join(parts...)
}

// Compute returns the fingerprint of an identity tuple.
func Compute(params []string) string {
	sum := md5.Sum([]byte(strings.Join(params, TupleSeparator)))
	return hex.EncodeToString(sum[:])
}

// Resolve maps exactly one of fp or params to a fingerprint.
//
// # Inputs
//
//   - kind: Service kind, which fixes the expected tuple length
//   - fp: An explicit fingerprint, or "" when absent
//   - params: The identity tuple, or nil when absent
//
// # Errors
//
//   - ErrInvalidInputCombination: both supplied, or neither (nil, empty,
//     or all-empty params count as neither when fp is also absent)
//   - ErrIncompleteParameters: params supplied with an empty element or
//     the wrong number of elements for kind
//
// Resolve has no side effects; existence is checked by the store.
func Resolve(kind Kind, fp string, params []string) (Resolution, error) {
	fp = strings.TrimSpace(fp)
	paramsSupplied := params != nil

	switch {
	case fp != "" && paramsSupplied:
		return Resolution{}, ErrInvalidInputCombination
	case fp != "":
		return Resolution{Kind: kind, Fingerprint: fp, ByHandle: true}, nil
	case !paramsSupplied || allEmpty(params):
		return Resolution{}, ErrInvalidInputCombination
	}

	spec := kind.Spec()
	if len(params) != len(spec.TupleFields) {
		return Resolution{}, fmt.Errorf("%w: %s expects %d values (%s), got %d",
			ErrIncompleteParameters, spec.Name, len(spec.TupleFields), strings.Join(spec.TupleFields, ", "), len(params))
	}
	var missing []string
	for i, p := range params {
		if p == "" {
			missing = append(missing, spec.TupleFields[i])
		}
	}
	if len(missing) > 0 {
		return Resolution{}, fmt.Errorf("%w: missing %s", ErrIncompleteParameters, strings.Join(missing, ", "))
	}

	return Resolution{Kind: kind, Fingerprint: Compute(params)}, nil
}

func allEmpty(params []string) bool {
	for _, p := range params {
		if p != "" {
			return false
		}
	}
	return true
}
