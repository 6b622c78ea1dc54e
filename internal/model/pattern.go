package model

import (
	"strings"
	"unicode/utf8"
)

// BlockType tags the block a layer runs.
type BlockType uint8

const (
	BlockMamba BlockType = iota
	BlockAttention
	BlockDense
	BlockMoE
)

// Pattern characters.
const (
	charMamba     = 'M'
	charAttention = '*'
	charDense     = '-'
	charMoE       = 'E'
)

func (b BlockType) String() string {
	switch b {
	case BlockMamba:
		return "mamba"
	case BlockAttention:
		return "attention"
	case BlockDense:
		return "dense"
	case BlockMoE:
		return "moe"
	default:
		return "unknown"
	}
}

// Char returns the pattern character for b.
func (b BlockType) Char() byte {
	switch b {
	case BlockMamba:
		return charMamba
	case BlockAttention:
		return charAttention
	case BlockDense:
		return charDense
	case BlockMoE:
		return charMoE
	default:
		return '?'
	}
}

// Stateful reports whether layers of this type own a cache entry.
func (b BlockType) Stateful() bool {
	return b == BlockMamba || b == BlockAttention
}

// Pattern is the per-layer block assignment, index i being layer i.
type Pattern []BlockType

// ParsePattern decodes a layer pattern such as "M*M-E". layers is the
// configured layer count the pattern must match.
func ParsePattern(pattern string, layers int) (Pattern, error) {
	if n := utf8.RuneCountInString(pattern); n != layers {
		return nil, configErrorf("hybrid_override_pattern", "length %d does not match num_hidden_layers %d", n, layers)
	}
	out := make(Pattern, 0, layers)
	for i, r := range pattern {
		switch r {
		case charMamba:
			out = append(out, BlockMamba)
		case charAttention:
			out = append(out, BlockAttention)
		case charDense:
			out = append(out, BlockDense)
		case charMoE:
			out = append(out, BlockMoE)
		default:
			return nil, configErrorf("hybrid_override_pattern", "unknown block type %q at offset %d", r, i)
		}
	}
	return out, nil
}

func (p Pattern) String() string {
	var sb strings.Builder
	sb.Grow(len(p))
	for _, b := range p {
		sb.WriteByte(b.Char())
	}
	return sb.String()
}

// Count returns how many layers have type b.
func (p Pattern) Count(b BlockType) int {
	n := 0
	for _, t := range p {
		if t == b {
			n++
		}
	}
	return n
}

// Has reports whether any layer has type b.
func (p Pattern) Has(b BlockType) bool {
	return p.Count(b) > 0
}
