package tokenizer

// Encode runs the SentencePiece-compatible BPE algorithm over text,
// optionally wrapping it with BOS/EOS. Two calls with the same
// (vocabulary, text) always return the identical sequence — the algorithm
// below has no hidden state beyond v itself.
func (v *Vocabulary) Encode(text string, addBOS, addEOS bool) []int {
	var tokens []int

	if addBOS {
		tokens = append(tokens, BOS)
	}

	// "Add dummy prefix": the literal " " piece is emitted whenever there is
	// any input. This mirrors the reference tokenizer's exact behavior
	// rather than general SentencePiece semantics, and is preserved
	// deliberately since token ids must match byte-for-byte.
	if len(text) > 0 {
		if id, ok := v.Lookup([]byte(" ")); ok {
			tokens = append(tokens, id)
		}
	}

	// Walk UTF-8 input one codepoint at a time. A leading byte is any byte
	// whose top two bits are not "10" (i.e. not a UTF-8 continuation byte).
	var scratch []byte
	flush := func() {
		if len(scratch) == 0 {
			return
		}
		if id, ok := v.Lookup(scratch); ok {
			tokens = append(tokens, id)
		} else {
			for _, b := range scratch {
				tokens = append(tokens, int(b)+3)
			}
		}
		scratch = scratch[:0]
	}
	for i := 0; i < len(text); i++ {
		b := text[i]
		if (b&0xC0) != 0x80 && len(scratch) > 0 {
			flush()
		}
		scratch = append(scratch, b)
	}
	flush()

	tokens = mergeBPE(v, tokens)

	if addEOS {
		tokens = append(tokens, EOS)
	}
	return tokens
}

// mergeBPE repeatedly merges the adjacent token pair with the highest
// score; on a tie the earliest index wins, since scanning i from 0 with a
// strict > comparison never replaces an already-found best.
func mergeBPE(v *Vocabulary, tokens []int) []int {
	for {
		bestScore := float32(-1e10)
		bestIdx := -1
		var bestID int

		for i := 0; i < len(tokens)-1; i++ {
			// Byte-fallback ids past the end of the table have no piece to
			// merge with.
			if tokens[i] >= len(v.pieces) || tokens[i+1] >= len(v.pieces) {
				continue
			}
			merged := append(append([]byte{}, v.pieces[tokens[i]]...), v.pieces[tokens[i+1]]...)
			id, ok := v.Lookup(merged)
			if !ok {
				continue
			}
			if v.scores[id] > bestScore {
				bestScore = v.scores[id]
				bestIdx = i
				bestID = id
			}
		}

		if bestIdx == -1 {
			return tokens
		}

		tokens[bestIdx] = bestID
		tokens = append(tokens[:bestIdx+1], tokens[bestIdx+2:]...)
	}
}
