package types

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Bins and Records
// --------------------------------------------------------------------------

// Bin is a single named value within a record
type Bin struct {
	Name  string
	Value Value
}

// NewBin creates a bin from a native Go value
func NewBin(name string, value interface{}) (Bin, error) {
	val, err := NewValue(value)
	if err != nil {
		return Bin{}, err
	}
	if len(name) > 255 {
		return Bin{}, fmt.Errorf("bin name %q exceeds 255 bytes", name)
	}
	return Bin{Name: name, Value: val}, nil
}

// BinMap maps bin names to their values
type BinMap map[string]Value

// Record is the result of a read operation
type Record struct {
	// Key identifies the record. For scan results only the digest part
	// of the key is filled in.
	Key *Key

	// Bins holds the bin values. Empty for header only reads.
	Bins BinMap

	// Generation is the server side modification counter of the record
	Generation uint32

	// Expiration is the remaining time to live in seconds as reported
	// by the server
	Expiration uint32
}

// String returns a human readable representation of the record
func (r *Record) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Record(gen=%d, exp=%d", r.Generation, r.Expiration))
	for name, value := range r.Bins {
		sb.WriteString(fmt.Sprintf(", %s=%s", name, value.String()))
	}
	sb.WriteString(")")
	return sb.String()
}
