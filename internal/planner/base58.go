package planner

// base58 implements the Bitcoin alphabet base58 encoding used for ad-hoc
// exec task names and cache directory names. No suitable base58 library
// is already part of this module's dependency tree, so this is a small
// hand-rolled encoder rather than a new dependency; see DESIGN.md.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// EncodeBase58 encodes b using the Bitcoin base58 alphabet. Leading zero
// bytes become leading '1' characters, matching the standard convention.
func EncodeBase58(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	zeros := 0
	for zeros < len(b) && b[zeros] == 0 {
		zeros++
	}

	// big-endian base-256 -> base-58 conversion via repeated division.
	input := make([]byte, len(b))
	copy(input, b)

	digits := make([]byte, 0, len(b)*138/100+1)
	start := zeros
	for start < len(input) {
		carry := 0
		for i := start; i < len(input); i++ {
			acc := carry*256 + int(input[i])
			input[i] = byte(acc / 58)
			carry = acc % 58
		}
		digits = append(digits, byte(carry))
		for start < len(input) && input[start] == 0 {
			start++
		}
	}

	out := make([]byte, 0, zeros+len(digits))
	for i := 0; i < zeros; i++ {
		out = append(out, base58Alphabet[0])
	}
	for i := len(digits) - 1; i >= 0; i-- {
		out = append(out, base58Alphabet[digits[i]])
	}
	return string(out)
}
