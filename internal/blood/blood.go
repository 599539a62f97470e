// Package blood encodes the ABO/Rh blood group model and the donor
// compatibility matrix. Compatibility answers have direct safety
// consequences, so the matrix is written out explicitly rather than
// derived from antigen string matching.
package blood

import (
	"errors"
	"fmt"
	"strings"
)

// Type is one of the eight standard ABO/Rh blood groups.
type Type string

const (
	ONeg  Type = "O-"
	OPos  Type = "O+"
	ANeg  Type = "A-"
	APos  Type = "A+"
	BNeg  Type = "B-"
	BPos  Type = "B+"
	ABNeg Type = "AB-"
	ABPos Type = "AB+"
)

// Types lists all valid blood groups in a stable order.
var Types = []Type{ONeg, OPos, ANeg, APos, BNeg, BPos, ABNeg, ABPos}

// ErrUnknownType indicates a string that is not one of the eight groups.
var ErrUnknownType = errors.New("blood: unknown blood type")

// Parse normalizes and validates a blood type string ("ab+", " O- ", ...).
func Parse(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Valid reports whether t is one of the eight standard groups.
func (t Type) Valid() bool {
	_, ok := donorMatrix[t]
	return ok
}

// donorMatrix maps a donor group to the set of recipient groups it may
// serve. Transcribed from the canonical red-cell compatibility table:
// O- is the universal donor, AB+ the universal recipient.
var donorMatrix = map[Type]map[Type]bool{
	ONeg:  {ONeg: true, OPos: true, ANeg: true, APos: true, BNeg: true, BPos: true, ABNeg: true, ABPos: true},
	OPos:  {OPos: true, APos: true, BPos: true, ABPos: true},
	ANeg:  {ANeg: true, APos: true, ABNeg: true, ABPos: true},
	APos:  {APos: true, ABPos: true},
	BNeg:  {BNeg: true, BPos: true, ABNeg: true, ABPos: true},
	BPos:  {BPos: true, ABPos: true},
	ABNeg: {ABNeg: true, ABPos: true},
	ABPos: {ABPos: true},
}

// CanDonate reports whether blood of the donor group may be given to a
// recipient of the requested group. Unknown groups on either side are
// never compatible.
func CanDonate(donor, recipient Type) bool {
	recipients, ok := donorMatrix[donor]
	if !ok {
		return false
	}
	return recipients[recipient]
}
