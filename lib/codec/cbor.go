// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the workbench's binary encoding for record blobs,
// currently the open key/value metadata carried on jobs.
//
// Encoding uses CBOR Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys and shortest integer forms, so the same metadata
// always produces the same bytes. Decoding into any produces
// map[string]any and int64 for integers, which is what callers and
// encoding/json expect.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeMetadata encodes a metadata map. Empty and nil maps encode to
// nil so the column stays NULL.
func EncodeMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	return Marshal(metadata)
}

// DecodeMetadata is the inverse of EncodeMetadata. Empty input yields
// a nil map.
func DecodeMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var metadata map[string]any
	if err := Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
