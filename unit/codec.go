// Package unit moves parsed units in and out of the VM.
//
// Two formats are supported:
//   - The wire format: a four byte magic, a version byte and the canonical
//     CBOR encoding of a vm.Unit. This is what an external container parser
//     hands over.
//   - The assembly format: YAML documents describing methods, classes and
//     scripts, with method code written as one instruction per line.
package unit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/abcvm/vm"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("abcvm.unit")

// Magic starts every encoded unit.
var Magic = []byte("ABCU")

// Version is the wire format revision written by Encode.
const Version byte = 1

const headerLen = 5

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("unit: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("unit: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// Encode serializes u to the wire format. Identical units always encode to
// identical bytes.
func Encode(u *vm.Unit) ([]byte, error) {
	body, err := cborEncMode.Marshal(u)
	if err != nil {
		return nil, errors.Wrapf(err, "unit: encode %q", u.Name)
	}
	out := make([]byte, 0, headerLen+len(body))
	out = append(out, Magic...)
	out = append(out, Version)
	return append(out, body...), nil
}

// IsEncoded reports whether data starts with the wire format magic.
func IsEncoded(data []byte) bool {
	return bytes.HasPrefix(data, Magic)
}

// Decode parses the wire format.
func Decode(data []byte) (*vm.Unit, error) {
	if len(data) < headerLen || !IsEncoded(data) {
		return nil, errors.New("unit: missing ABCU header")
	}
	if v := data[len(Magic)]; v != Version {
		return nil, errors.Errorf("unit: unsupported wire version %d (want %d)", v, Version)
	}
	var u vm.Unit
	if err := cborDecMode.Unmarshal(data[headerLen:], &u); err != nil {
		return nil, errors.Wrap(err, "unit: decode")
	}
	return &u, nil
}

// LoadFile reads a unit from path. Files carrying the wire magic are
// decoded; anything else is assembled as YAML, with the file's base name
// as the default unit name.
func LoadFile(path string) (*vm.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s", path)
	}
	var u *vm.Unit
	if IsEncoded(data) {
		u, err = Decode(data)
	} else {
		name := filepath.Base(path)
		u, err = Assemble(name[:len(name)-len(filepath.Ext(name))], data)
	}
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	log.Debugf("loaded %s: %d methods, %d classes, %d scripts", path, len(u.Pool.Methods), len(u.Classes), len(u.Scripts))
	return u, nil
}

// SaveFile writes u to path in the wire format.
func SaveFile(path string, u *vm.Unit) error {
	data, err := Encode(u)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "cannot write %s", path)
	}
	return nil
}
