package models

import "encoding/json"

// Payload is the target-schema representation of one legacy record, ready to
// be posted to the remote content API. It is built once per record and never
// mutated after the transformer returns it.
type Payload struct {
	Type        string
	ID          string
	Title       string
	Description string
	Fields      map[string]interface{}
}

// MarshalJSON flattens the payload into the body the create endpoint expects.
func (p *Payload) MarshalJSON() ([]byte, error) {
	body := make(map[string]interface{}, len(p.Fields)+4)
	for k, v := range p.Fields {
		body[k] = v
	}
	body["@type"] = p.Type
	body["id"] = p.ID
	body["title"] = p.Title
	body["description"] = p.Description
	return json.Marshal(body)
}

// Field returns an extra field value or nil.
func (p *Payload) Field(name string) interface{} {
	if p.Fields == nil {
		return nil
	}
	return p.Fields[name]
}

// Clause is one structured query criterion of a saved search.
type Clause struct {
	Index    string      `json:"i"`
	Operator string      `json:"o"`
	Value    interface{} `json:"v"`
}

// SharingEntry is one principal of a local-roles (sharing) update.
type SharingEntry struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Roles map[string]bool `json:"roles"`
}

// PortletAssignment is one portlet to be added to a portlet manager.
type PortletAssignment struct {
	Manager string      `json:"portlet_manager"`
	Data    interface{} `json:"portlet_data"`
	Class   string      `json:"class"`
}

// PositionEntry assigns an absolute position to one object in its parent.
type PositionEntry struct {
	Path     string `json:"path"`
	Position int    `json:"position"`
}
