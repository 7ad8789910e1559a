package domain

import (
	"regexp"
	"strconv"
	"strings"
)

var varcharSize = regexp.MustCompile(`^(?:VARCHAR|CHARACTER VARYING|CHAR|CHARACTER)\s*\((\d+)\)$`)

// integerRank orders the integer family from narrowest to widest.
var integerRank = map[string]int{
	"TINYINT":  1,
	"SMALLINT": 2,
	"INT":      3,
	"INTEGER":  3,
	"INT4":     3,
	"BIGINT":   4,
	"INT8":     4,
	"HUGEINT":  5,
}

// floatRank orders the floating-point family from narrowest to widest.
var floatRank = map[string]int{
	"REAL":             1,
	"FLOAT4":           1,
	"FLOAT":            2,
	"DOUBLE":           2,
	"DOUBLE PRECISION": 2,
	"FLOAT8":           2,
}

// WidenedType decides whether the existing column type must be widened
// to hold values of the incoming type. Widening is monotonic: an
// incoming type that matches or is narrower than the existing type is
// a no-op. Type pairs that belong to unrelated families cannot be
// widened and fail with SchemaIncompatibleError.
func WidenedType(existing, incoming string) (newType string, widen bool, err error) {
	cur := normalizeType(existing)
	in := normalizeType(incoming)

	// Untyped columns (SQLite expression columns carry no declared
	// type) are left alone rather than treated as incompatible.
	if cur == in || cur == "" || in == "" {
		return "", false, nil
	}

	if curSize, curOK := stringSize(cur); curOK {
		inSize, inOK := stringSize(in)
		if !inOK {
			return "", false, ErrSchemaIncompatible(
				"cannot widen column type %s to %s", existing, incoming)
		}
		if inSize > curSize {
			return in, true, nil
		}
		return "", false, nil
	}

	curInt, curIsInt := integerRank[cur]
	inInt, inIsInt := integerRank[in]
	curFloat, curIsFloat := floatRank[cur]
	inFloat, inIsFloat := floatRank[in]

	switch {
	case curIsInt && inIsInt:
		if inInt > curInt {
			return in, true, nil
		}
		return "", false, nil
	case curIsFloat && inIsFloat:
		if inFloat > curFloat {
			return in, true, nil
		}
		return "", false, nil
	case curIsInt && inIsFloat:
		// Floats hold any integer of this engine's families.
		return in, true, nil
	case curIsFloat && inIsInt:
		return "", false, nil
	}

	return "", false, ErrSchemaIncompatible(
		"cannot widen column type %s to %s", existing, incoming)
}

func normalizeType(t string) string {
	return strings.ToUpper(strings.Join(strings.Fields(t), " "))
}

// stringSize reports whether t is a string type and, if so, its
// capacity. Unbounded string types count as maximally wide.
func stringSize(t string) (int, bool) {
	if m := varcharSize.FindStringSubmatch(t); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n, true
		}
	}
	switch t {
	case "TEXT", "VARCHAR", "STRING", "CHARACTER VARYING":
		return int(^uint(0) >> 1), true
	}
	return 0, false
}
