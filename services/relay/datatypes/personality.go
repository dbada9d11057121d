// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Personality selects a scripted priming exchange for the provider session.
type Personality string

const (
	// PersonalityNone is the zero value: no personality was requested.
	PersonalityNone Personality = ""

	// PersonalityDefault is accepted explicitly and adds no priming turns.
	PersonalityDefault Personality = "default"

	// PersonalityPirate primes the model to answer as a pirate.
	PersonalityPirate Personality = "pirate"

	// PersonalityShakespeare primes the model to answer in Early Modern English.
	PersonalityShakespeare Personality = "shakespeare"

	// PersonalitySarcastic primes the model to answer sarcastically.
	PersonalitySarcastic Personality = "sarcastic"
)

// Personalities lists every accepted personality value, in display order.
func Personalities() []Personality {
	return []Personality{
		PersonalityDefault,
		PersonalityPirate,
		PersonalityShakespeare,
		PersonalitySarcastic,
	}
}

// ParsePersonality converts a form value into a Personality.
//
// Empty input maps to PersonalityNone. Matching is exact: case and
// surrounding whitespace are significant, so " pirate " is rejected.
// The second return is false for anything outside the closed set.
func ParsePersonality(s string) (Personality, bool) {
	switch p := Personality(s); p {
	case PersonalityNone, PersonalityDefault, PersonalityPirate,
		PersonalityShakespeare, PersonalitySarcastic:
		return p, true
	default:
		return PersonalityNone, false
	}
}

// Preset returns the priming exchange for p: one user turn followed by one
// model turn. PersonalityNone and PersonalityDefault return nil.
//
// A fresh slice is built on every call.
func (p Personality) Preset() []ChatTurn {
	var instruction, reply string

	switch p {
	case PersonalityPirate:
		instruction = "From now on, you are a pirate."
		reply = "Arrr, matey! What be the news?"
	case PersonalityShakespeare:
		instruction = "From now on, you speak like Shakespeare."
		reply = "Speak, noble user! How may I serve thee on this fine day?"
	case PersonalitySarcastic:
		instruction = "From now on, you are a witty and sarcastic assistant. Please respond as such."
		reply = "Oh, fantastic. Another chat. Just what I needed. *Sigh*. What do you want?"
	default:
		return nil
	}

	return []ChatTurn{
		NewTurn(RoleUser, TextPart(instruction)),
		NewTurn(RoleModel, TextPart(reply)),
	}
}

// MergePersonality returns p's preset followed by history.
//
// The result is always a new slice; history is never modified or
// aliased. Personalities without a preset return a copy of history.
func MergePersonality(p Personality, history []ChatTurn) []ChatTurn {
	preset := p.Preset()
	if preset == nil && history == nil {
		return nil
	}
	merged := make([]ChatTurn, 0, len(preset)+len(history))
	merged = append(merged, preset...)
	return append(merged, history...)
}
