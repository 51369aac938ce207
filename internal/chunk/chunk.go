package chunk

import "errors"

const (
	DefaultMaxChars = 1000
	DefaultOverlap  = 200
)

var ErrInvalidWindow = errors.New("chunk: max chars must be positive and overlap in [0, max chars)")

// Split cuts text into windows of at most maxChars runes, each starting
// maxChars-overlap runes after the previous one. The last window always ends
// at the end of text.
func Split(text string, maxChars, overlap int) ([]string, error) {
	if maxChars <= 0 || overlap < 0 || overlap >= maxChars {
		return nil, ErrInvalidWindow
	}
	if text == "" {
		return []string{}, nil
	}

	runes := []rune(text)
	if len(runes) <= maxChars {
		return []string{text}, nil
	}

	out := make([]string, 0, Count(len(runes), maxChars, overlap))
	start := 0
	for start < len(runes) {
		end := min(len(runes), start+maxChars)
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return out, nil
}

// Count is the number of windows Split produces for n runes.
func Count(n, maxChars, overlap int) int {
	if n == 0 {
		return 0
	}
	if n <= maxChars {
		return 1
	}
	step := maxChars - overlap
	return 1 + (n-maxChars+step-1)/step
}
