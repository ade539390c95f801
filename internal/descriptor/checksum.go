package descriptor

import (
	"fmt"
	"strings"
)

const (
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	checksumLength = 8
)

var generator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

func polymod(c uint64, val int) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ uint64(val)
	for i, g := range generator {
		if (c0>>i)&1 != 0 {
			c ^= g
		}
	}
	return c
}

// Checksum computes the eight character descriptor checksum of desc, which
// must not already carry one.
func Checksum(desc string) (string, error) {
	c := uint64(1)
	cls, clsCount := 0, 0
	for _, ch := range desc {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf("%w: invalid character %q", ErrInvalidDescriptor, ch)
		}
		c = polymod(c, pos&31)
		cls = cls*3 + (pos >> 5)
		clsCount++
		if clsCount == 3 {
			c = polymod(c, cls)
			cls, clsCount = 0, 0
		}
	}
	if clsCount > 0 {
		c = polymod(c, cls)
	}
	for i := 0; i < checksumLength; i++ {
		c = polymod(c, 0)
	}
	c ^= 1

	sum := make([]byte, checksumLength)
	for i := range sum {
		sum[i] = checksumCharset[(c>>(5*(7-i)))&31]
	}
	return string(sum), nil
}

// splitChecksum separates "body#checksum" and verifies the checksum when one
// is present.
func splitChecksum(s string) (string, error) {
	body, sum, found := strings.Cut(s, "#")
	if !found {
		return body, nil
	}
	if len(sum) != checksumLength {
		return "", fmt.Errorf("%w: checksum %q has wrong length", ErrBadChecksum, sum)
	}
	want, err := Checksum(body)
	if err != nil {
		return "", err
	}
	if sum != want {
		return "", fmt.Errorf("%w: got %s, expected %s", ErrBadChecksum, sum, want)
	}
	return body, nil
}
