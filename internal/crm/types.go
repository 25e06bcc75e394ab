package crm

import "encoding/json"

// FieldMeta is the raw field metadata the portal returns from
// crm.<entity>.fields. Only the attributes the importer consumes are
// decoded; everything else is ignored.
type FieldMeta struct {
	Type        string `json:"type"`
	IsMultiple  bool   `json:"isMultiple"`
	IsDynamic   bool   `json:"isDynamic"`
	IsReadOnly  bool   `json:"isReadOnly"`
	Title       string `json:"title"`
	ListLabel   string `json:"listLabel"`
	FormLabel   string `json:"formLabel"`
	FilterLabel string `json:"filterLabel"`

	// Items holds the allowed values for enumeration fields.
	Items []EnumItem `json:"items,omitempty"`
}

// EnumItem is one allowed value of an enumeration field.
type EnumItem struct {
	ID    json.Number `json:"ID"`
	Value string      `json:"VALUE"`
}

// Category is a deal category (pipeline) on the portal.
type Category struct {
	ID   json.Number `json:"ID"`
	Name string      `json:"NAME"`
}

// MultiValueTypes lists the conventional value types accepted by the
// portal's multi-value fields (phone, email, web, im).
var MultiValueTypes = []string{"WORK", "MOBILE", "HOME", "OTHER"}
