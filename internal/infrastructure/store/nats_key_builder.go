// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"strconv"
	"strings"
)

// Common key prefixes
const (
	KeyPrefixRoom = "room"
)

// KeyBuilder provides utilities for building consistent NATS KV keys
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder creates a new key builder with an optional prefix
func NewKeyBuilder(prefix string) *KeyBuilder {
	return &KeyBuilder{
		prefix: prefix,
	}
}

// EntityKey builds a key for an entity (e.g., "room.42")
func (kb *KeyBuilder) EntityKey(entityType string, id int64) string {
	return kb.CompoundKey(entityType, strconv.FormatInt(id, 10))
}

// CompoundKey builds a dot-separated key from multiple parts. Characters NATS
// does not accept in a key token are replaced with an underscore.
func (kb *KeyBuilder) CompoundKey(parts ...string) string {
	tokens := make([]string, 0, len(parts)+1)
	if kb.prefix != "" {
		tokens = append(tokens, sanitizeToken(kb.prefix))
	}
	for _, part := range parts {
		tokens = append(tokens, sanitizeToken(part))
	}
	return strings.Join(tokens, ".")
}

// sanitizeToken keeps the characters allowed in a NATS KV key token.
// NATS limitations: https://docs.nats.io/nats-concepts/jetstream/key-value-store#notes
func sanitizeToken(part string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '=' || r == '/':
			return r
		}
		return '_'
	}, part)
}
