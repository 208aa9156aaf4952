package domain

import "strings"

// PartitionKey is the hierarchical spatial bucket of a location.
// Region, Cell and SubCell are geohashes and each is a prefix of the next.
type PartitionKey struct {
	Region  string `json:"region"`
	Cell    string `json:"cell"`
	SubCell string `json:"subCell"`
}

// String renders the key as "region/cell/subcell".
func (k PartitionKey) String() string {
	return k.Region + "/" + k.Cell + "/" + k.SubCell
}

// IsZero reports whether the key was never computed.
func (k PartitionKey) IsZero() bool {
	return k.SubCell == ""
}

// ParsePartitionKey is the inverse of String.
func ParsePartitionKey(s string) (PartitionKey, bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return PartitionKey{}, false
	}
	k := PartitionKey{Region: parts[0], Cell: parts[1], SubCell: parts[2]}
	if !strings.HasPrefix(k.Cell, k.Region) || !strings.HasPrefix(k.SubCell, k.Cell) {
		return PartitionKey{}, false
	}
	return k, true
}
