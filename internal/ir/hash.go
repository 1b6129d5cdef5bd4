package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the hashing scheme to change without collisions.
const (
	DomainNode    = "deepblue/node/v1"
	DomainRequest = "deepblue/request/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// NodeKey computes the structural identity of a query node from its operator
// kind, canonical arguments and the keys of its inputs (in operand order).
// Two nodes are the same node iff their keys are equal.
func NodeKey(kind string, args IRObject, inputKeys []string) (string, error) {
	obj := IRObject{
		"kind":   IRString(kind),
		"args":   args,
		"inputs": Strings(inputKeys),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("NodeKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainNode, canonical), nil
}

// RequestKey computes the identity of a materialization request. Requests
// with equal keys share results and are deduplicated by the request manager.
//
// The caller is intentionally not part of the key: the key names what is
// computed, and results of immutable data are the same for every user.
func RequestKey(nodeKey, operation, format string, params IRObject) (string, error) {
	if params == nil {
		params = IRObject{}
	}
	obj := IRObject{
		"node":      IRString(nodeKey),
		"operation": IRString(operation),
		"format":    IRString(format),
		"params":    params,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RequestKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRequest, canonical), nil
}

// MustNodeKey is like NodeKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustNodeKey(kind string, args IRObject, inputKeys []string) string {
	key, err := NodeKey(kind, args, inputKeys)
	if err != nil {
		panic(err)
	}
	return key
}
