package toolchain

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/coral-mesh/clustertls/internal/safe"
)

// NextSerial advances the hex serial counter at path and returns the new
// value. A missing counter starts from a random 64-bit value. Callers must
// hold the authority's lock.
func NextSerial(path string, random io.Reader) (*big.Int, error) {
	if random == nil {
		random = rand.Reader
	}

	data, err := safe.ReadFile(path, nil)
	var serial *big.Int
	switch {
	case err == nil:
		text := strings.TrimSpace(string(data))
		parsed, ok := new(big.Int).SetString(text, 16)
		if !ok || parsed.Sign() < 0 {
			return nil, fmt.Errorf("malformed serial file %s", path)
		}
		serial = parsed.Add(parsed, big.NewInt(1))
	case os.IsNotExist(err):
		serial, err = rand.Int(random, new(big.Int).Lsh(big.NewInt(1), 64))
		if err != nil {
			return nil, fmt.Errorf("failed to seed serial: %w", err)
		}
		serial.Add(serial, big.NewInt(1))
	default:
		return nil, fmt.Errorf("failed to read serial file: %w", err)
	}

	if err := safe.WriteFileAtomic(path, []byte(FormatSerial(serial)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write serial file: %w", err)
	}
	return serial, nil
}

// FormatSerial renders a serial the way openssl writes .srl files: upper-case
// hex with an even number of digits.
func FormatSerial(serial *big.Int) string {
	text := strings.ToUpper(serial.Text(16))
	if len(text)%2 == 1 {
		text = "0" + text
	}
	return text
}
