package core

// PrimaryCategory is one value of the fixed spending taxonomy.
type PrimaryCategory string

const (
	Food          PrimaryCategory = "Food"
	Travel        PrimaryCategory = "Travel"
	Shopping      PrimaryCategory = "Shopping"
	Bills         PrimaryCategory = "Bills"
	Entertainment PrimaryCategory = "Entertainment"
	Health        PrimaryCategory = "Health"
	Misc          PrimaryCategory = "Misc" // catch-all
)

// primaryCategories is the taxonomy in display order.
var primaryCategories = []PrimaryCategory{Food, Travel, Shopping, Bills, Entertainment, Health, Misc}

var primaryIndex = func() map[string]int {
	m := make(map[string]int, len(primaryCategories))
	for i, c := range primaryCategories {
		m[string(c)] = i
	}
	return m
}()

// PrimaryCategories returns the fixed taxonomy, catch-all last.
func PrimaryCategories() []PrimaryCategory {
	return append([]PrimaryCategory(nil), primaryCategories...)
}

// IsPrimary reports whether raw is exactly one of the primary categories.
// The comparison is case-sensitive.
func IsPrimary(raw string) bool {
	_, ok := primaryIndex[raw]
	return ok
}

// Normalize maps any label onto the taxonomy. Labels that are not an exact
// member collapse into Misc.
func Normalize(raw string) PrimaryCategory {
	if IsPrimary(raw) {
		return PrimaryCategory(raw)
	}
	return Misc
}
