package service

import "github.com/noah-isme/gema-grader/pkg/judge0"

// TokenMap ties batch tokens back to the exercises they were issued for.
// The execution service answers a batch submission with tokens in request
// order; this is the only place that relies on that ordering.
type TokenMap struct {
	byToken map[string]uint
	tokens  []string
	missing []uint
}

// NewTokenMap pairs exercise ids and tokens by position. Exercises without a
// token are reported by Missing.
func NewTokenMap(exerciseIDs []uint, tokens []string) *TokenMap {
	m := &TokenMap{byToken: make(map[string]uint, len(tokens))}
	for i, exerciseID := range exerciseIDs {
		token := ""
		if i < len(tokens) {
			token = tokens[i]
		}
		if token == "" {
			m.missing = append(m.missing, exerciseID)
			continue
		}
		m.byToken[token] = exerciseID
		m.tokens = append(m.tokens, token)
	}
	return m
}

// Tokens returns the issued tokens in dispatch order.
func (m *TokenMap) Tokens() []string {
	return m.tokens
}

// Missing returns the exercises that received no token.
func (m *TokenMap) Missing() []uint {
	return m.missing
}

// Lookup returns the exercise a token was issued for.
func (m *TokenMap) Lookup(token string) (uint, bool) {
	exerciseID, ok := m.byToken[token]
	return exerciseID, ok
}

// Resolve finds the exercise for the result at the given poll position. The
// result token wins; position is only used when the token is absent.
func (m *TokenMap) Resolve(position int, result judge0.Result) (uint, bool) {
	if result.Token != "" {
		return m.Lookup(result.Token)
	}
	if position < 0 || position >= len(m.tokens) {
		return 0, false
	}
	exerciseID, ok := m.byToken[m.tokens[position]]
	return exerciseID, ok
}
