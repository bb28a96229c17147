package catalog

import (
	"sort"
	"time"
)

// Class identifies one of the sellable voucher classes.
type Class int

// ClassInfo describes a sellable voucher class. BasePrice is in whole
// currency units; the payable amount is BasePrice plus the per-class
// sequence, so the price must leave headroom for the sequence suffix.
type ClassInfo struct {
	Class     Class
	Label     string
	BasePrice int64
	Validity  time.Duration
}

var classes = map[Class]ClassInfo{
	1: {Class: 1, Label: "6 Jam", BasePrice: 20, Validity: 6 * time.Hour},
	2: {Class: 2, Label: "12 Jam", BasePrice: 30, Validity: 12 * time.Hour},
	3: {Class: 3, Label: "3 Hari", BasePrice: 60, Validity: 72 * time.Hour},
	4: {Class: 4, Label: "7 Hari", BasePrice: 100, Validity: 7 * 24 * time.Hour},
	5: {Class: 5, Label: "30 Hari", BasePrice: 350, Validity: 30 * 24 * time.Hour},
}

// Lookup returns the class description, if the class exists.
func Lookup(c Class) (ClassInfo, bool) {
	info, ok := classes[c]
	return info, ok
}

// Valid reports whether c identifies a sellable class.
func Valid(c Class) bool {
	_, ok := classes[c]
	return ok
}

// SetBasePrice overrides one class base price. Intended for startup
// configuration only; changing prices while sales are pending shifts the
// amount space under them.
func SetBasePrice(c Class, price int64) bool {
	info, ok := classes[c]
	if !ok || price <= 0 {
		return false
	}
	info.BasePrice = price
	classes[c] = info
	return true
}

// All returns every class ordered by identifier.
func All() []ClassInfo {
	out := make([]ClassInfo, 0, len(classes))
	for _, info := range classes {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}
