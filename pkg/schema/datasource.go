package schema

// ReturnKind is the declared value category a datasource produces.
type ReturnKind string

const (
	ReturnInteger ReturnKind = "integer"
	ReturnReal    ReturnKind = "real"
	ReturnString  ReturnKind = "string"
	ReturnBoolean ReturnKind = "boolean"
)

// Valid reports whether the kind is one of the declared categories.
func (k ReturnKind) Valid() bool {
	switch k {
	case ReturnInteger, ReturnReal, ReturnString, ReturnBoolean:
		return true
	}
	return false
}

// DataSourceInfo is the externally visible metadata of a registered datasource.
// The bound callable is never part of it.
type DataSourceInfo struct {
	Name        string     `json:"name"`
	Parameters  []string   `json:"parameters"`
	ReturnKind  ReturnKind `json:"return_kind"`
	Description string     `json:"description,omitempty"`
}

// AllowedDataSourceDetail merges execution-point allow-list entries with
// registry metadata. A name allowed at a point but not yet registered is still
// listed, flagged via Warning, so workflow authors can plan ahead.
type AllowedDataSourceDetail struct {
	Name        string     `json:"name"`
	Registered  bool       `json:"registered"`
	Parameters  []string   `json:"parameters,omitempty"`
	ReturnKind  ReturnKind `json:"return_kind,omitempty"`
	Description string     `json:"description,omitempty"`
	Warning     string     `json:"warning,omitempty"`
}
