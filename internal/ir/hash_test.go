package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeKeyDeterminism(t *testing.T) {
	args := IRObject{"genome": IRString("hg19"), "size": IRInt(1000)}

	k1, err := NodeKey("tiling", args, nil)
	require.NoError(t, err)
	k2, err := NodeKey("tiling", IRObject{"size": IRInt(1000), "genome": IRString("hg19")}, nil)
	require.NoError(t, err)

	assert.Equal(t, k1, k2, "key must not depend on map iteration order")
	assert.Len(t, k1, 64, "SHA-256 hex is 64 characters")
}

func TestNodeKeyChangesWithInput(t *testing.T) {
	args := IRObject{"column": IRString("SCORE")}

	base := MustNodeKey("filter", args, []string{"a"})
	assert.NotEqual(t, base, MustNodeKey("filter", args, []string{"b"}))
	assert.NotEqual(t, base, MustNodeKey("merge", args, []string{"a"}))
	assert.NotEqual(t, base, MustNodeKey("filter", IRObject{"column": IRString("score")}, []string{"a"}))
}

func TestNodeKeyInputOrderMatters(t *testing.T) {
	ab := MustNodeKey("intersection", IRObject{}, []string{"a", "b"})
	ba := MustNodeKey("intersection", IRObject{}, []string{"b", "a"})
	assert.NotEqual(t, ab, ba)
}

func TestRequestKeyDomainSeparation(t *testing.T) {
	node := MustNodeKey("tiling", IRObject{}, nil)

	k1, err := RequestKey(node, "get_regions", DefaultFormat, nil)
	require.NoError(t, err)
	k2, err := RequestKey(node, "get_regions", "CHROMOSOME,START", nil)
	require.NoError(t, err)
	k3, err := RequestKey(node, "count_regions", "", IRObject{})
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, node, k1)
}
