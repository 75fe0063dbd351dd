package layout

import (
	"encoding/pem"
	"fmt"
	"os"

	"github.com/coral-mesh/clustertls/internal/safe"
)

// Presence describes what is on disk for an artifact.
type Presence int

const (
	// Missing means no file exists.
	Missing Presence = iota
	// Present means the file exists and looks well-formed.
	Present
	// Malformed means something exists but cannot be the expected artifact.
	Malformed
)

func (p Presence) String() string {
	switch p {
	case Missing:
		return "missing"
	case Present:
		return "present"
	default:
		return "malformed"
	}
}

// Exists reports whether path exists in any form.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// CheckNonEmpty classifies a binary artifact such as a keystore.
func CheckNonEmpty(path string) Presence {
	info, err := os.Lstat(path)
	if err != nil {
		return Missing
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return Malformed
	}
	return Present
}

// CheckPEM classifies a PEM artifact whose first block must be one of types.
func CheckPEM(path string, types ...string) Presence {
	if !Exists(path) {
		return Missing
	}
	data, err := safe.ReadFile(path, nil)
	if err != nil || len(data) == 0 {
		return Malformed
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return Malformed
	}
	for _, t := range types {
		if block.Type == t {
			return Present
		}
	}
	return Malformed
}

// PairState classifies a key/certificate pair.
func PairState(key, cert Presence) (Presence, error) {
	switch {
	case key == Missing && cert == Missing:
		return Missing, nil
	case key == Present && cert == Present:
		return Present, nil
	case key == Malformed || cert == Malformed:
		return Malformed, fmt.Errorf("key is %s and certificate is %s", key, cert)
	default:
		return Malformed, fmt.Errorf("incomplete pair: key is %s and certificate is %s", key, cert)
	}
}
