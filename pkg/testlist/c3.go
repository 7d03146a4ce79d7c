package testlist

// c3Merge performs the monotonic merge step of C3 linearization. Each input
// sequence lists names from most to least specific. The merge repeatedly
// takes the first head that does not appear in the tail of any sequence.
// ok is false when no such head exists.
func c3Merge(seqs [][]string) (out []string, ok bool) {
	work := make([][]string, 0, len(seqs))
	for _, s := range seqs {
		if len(s) > 0 {
			work = append(work, append([]string(nil), s...))
		}
	}

	for len(work) > 0 {
		var head string
		found := false
		for _, s := range work {
			candidate := s[0]
			if !inAnyTail(candidate, work) {
				head = candidate
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}

		out = append(out, head)
		next := work[:0]
		for _, s := range work {
			if s[0] == head {
				s = s[1:]
			}
			if len(s) > 0 {
				next = append(next, s)
			}
		}
		work = next
	}
	return out, true
}

func inAnyTail(name string, seqs [][]string) bool {
	for _, s := range seqs {
		for _, n := range s[1:] {
			if n == name {
				return true
			}
		}
	}
	return false
}
