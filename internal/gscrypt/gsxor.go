// Package gscrypt implements the ciphers used by the router and CD-key
// services: the keyless GS transform, Blowfish session ciphers and the RSA
// public-key codec used during the router handshake.
package gscrypt

// The GS transform masks every byte with its position and then transposes
// the buffer through a square grid: bytes are laid out along anti-diagonals
// and read back row by row. It has no key; both peers apply the same fixed
// permutation.

// maskOffset is subtracted from the byte index to form the additive mask.
const maskOffset = 119

// Encrypt applies the GS transform to p and returns a new buffer.
func Encrypt(p []byte) []byte {
	n := len(p)
	out := make([]byte, n)
	if n == 0 {
		return out
	}

	side := gridSide(n)
	order := walk(n, side)

	grid := make([]byte, side*side)
	used := make([]bool, side*side)
	for i, cell := range order {
		grid[cell] = p[i] ^ byte(i-maskOffset)
		used[cell] = true
	}

	idx := 0
	for cell := range grid {
		if used[cell] {
			out[idx] = grid[cell]
			idx++
		}
	}

	return out
}

// Decrypt reverses Encrypt.
func Decrypt(c []byte) []byte {
	n := len(c)
	out := make([]byte, n)
	if n == 0 {
		return out
	}

	side := gridSide(n)
	order := walk(n, side)

	used := make([]bool, side*side)
	for _, cell := range order {
		used[cell] = true
	}

	grid := make([]byte, side*side)
	idx := 0
	for cell := range grid {
		if used[cell] {
			grid[cell] = c[idx]
			idx++
		}
	}

	for i, cell := range order {
		out[i] = grid[cell] ^ byte(i-maskOffset)
	}

	return out
}

// gridSide returns ceil(sqrt(n)).
func gridSide(n int) int {
	side := 0
	for side*side < n {
		side++
	}
	return side
}

// walk returns the grid cell (a + side*b) of each of the n input positions.
// The walk starts at (0,0) and runs along anti-diagonals, incrementing a and
// decrementing b. Leaving the grid at the top restarts on the next diagonal
// from a = 0; leaving it on the right restarts from the bottom row. Every
// cell it visits lies inside the side x side grid.
func walk(n, side int) []int {
	order := make([]int, n)
	a, b := 0, 0
	for i := 0; i < n; i++ {
		if a < side {
			if b < 0 {
				b = a
				a = 0
			}
		} else {
			a = b + 2
			b = side - 1
		}
		order[i] = a + side*b
		a++
		b--
	}
	return order
}
