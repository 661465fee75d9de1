package memory

// ExtractJSONObject returns the first balanced {...} block from raw model
// output. Generative extractors routinely wrap their JSON in prose, so the
// parser tolerates leading and trailing wrapper text.
func ExtractJSONObject(s string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		case '"':
			if start >= 0 {
				inString = true
			}
		}
	}

	return "", ErrNoJSONObject
}
