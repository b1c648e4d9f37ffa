package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DeviceRecord is one managed device as reported by the device API.
// LastSeen keeps the raw API string; parsing belongs to the filter.
type DeviceRecord struct {
	ID       string `json:"Id"`
	Location string `json:"Entidade"`
	LastSeen string `json:"UltimaComunicacao"`
	Active   bool   `json:"isAtivo"`
}

// UnmarshalJSON accepts numeric or string ids and tolerates nulls.
func (d *DeviceRecord) UnmarshalJSON(data []byte) error {
	aux := struct {
		ID       json.RawMessage `json:"Id"`
		Location *string         `json:"Entidade"`
		LastSeen *string         `json:"UltimaComunicacao"`
		Active   interface{}     `json:"isAtivo"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	id, err := rawID(aux.ID)
	if err != nil {
		return err
	}
	*d = DeviceRecord{ID: id}
	if aux.Location != nil {
		d.Location = *aux.Location
	}
	if aux.LastSeen != nil {
		d.LastSeen = *aux.LastSeen
	}
	d.Active = aux.Active == true
	return nil
}

func rawID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid device Id: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid device Id %s: %w", raw, err)
	}
	return n.String(), nil
}
