package canonical

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the types allowed in hashed material.
// Only String, Int, Bool, Array, and Object implement it. There is no
// float variant: fractional quantities must be scaled to integers before
// they enter canonical form, or the hash stops being portable.
type Value interface {
	canonicalValue()
}

// String is a string value.
type String string

func (String) canonicalValue() {}

// Int is an integer value. Always int64, never a float in disguise.
type Int int64

func (Int) canonicalValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) canonicalValue() {}

// Array is an ordered sequence of values.
type Array []Value

func (Array) canonicalValue() {}

// Object maps string keys to values. Iterate via SortedKeys for
// deterministic order.
type Object map[string]Value

func (Object) canonicalValue() {}

// Ints builds an Array from int64 elements.
func Ints(ns ...int64) Array {
	arr := make(Array, len(ns))
	for i, n := range ns {
		arr[i] = Int(n)
	}
	return arr
}

// SortedKeys returns the object's keys in RFC 8785 order (UTF-16 code
// units). Go's sort.Strings compares UTF-8 bytes, which produces a
// different order for keys outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// compareUTF16 orders strings by UTF-16 code units as RFC 8785 requires.
// Surrogate pairs sort below BMP characters in the U+E000 range, the
// opposite of UTF-8 byte order.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := len(a16)
	if len(b16) < n {
		n = len(b16)
	}
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}
