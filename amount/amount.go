package amount

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// NanoGTX is the number of atomic units in one GTX.
const NanoGTX = 1e9

// Amount is the atomic token unit of the grid ledger.
// Each unit equals 1e-9 of a GTX.
type Amount int64

func round(f float64) Amount {
	if f < 0 {
		return Amount(f - 0.5)
	}
	return Amount(f + 0.5)
}

func NewAmount(f float64) (Amount, error) {
	switch {
	case math.IsNaN(f),
		math.IsInf(f, 1),
		math.IsInf(f, -1):
		return 0, errors.New("invalid GTX amount")
	}

	return round(f * float64(NanoGTX)), nil
}

func (a Amount) IsPositive() bool {
	return a > 0
}

// String formats a in whole GTX with as many decimals as needed.
func (a Amount) String() string {
	return strconv.FormatFloat(float64(a)/NanoGTX, 'f', -1, 64) + " GTX"
}
