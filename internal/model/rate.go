package model

// Rate maps a coin denomination to a minutes credit.  The table is owned
// by the admin UI; the engine only reads it.  Denominations without a row
// fall back to a linear rate (pesos times a configured multiplier).
type Rate struct {
	ID      uint64 // rates.id
	Pesos   int    // rates.pesos
	Minutes int    // rates.minutes
}
