package sim

import (
	"encoding/json"
	"strings"
)

// response mirrors the directory payload. Identity fields usually live
// in a nested "daten" object; older deployments returned them at the
// top level, so both shapes are accepted.
type response struct {
	Status  string   `json:"status"`
	Projekt string   `json:"projekt"`
	Daten   *details `json:"daten"`
	details
}

type details struct {
	Vorname    string         `json:"vorname"`
	Nachname   string         `json:"nachname"`
	Geschlecht string         `json:"geschlecht"`
	Emails     []emailAddress `json:"emailadressen"`
}

// emailAddress tolerates both the object form {"adresse": ...} and a
// bare string entry.
type emailAddress struct {
	Adresse string `json:"adresse"`
}

func (e *emailAddress) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Adresse = s
		return nil
	}
	type object emailAddress
	var o object
	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}
	e.Adresse = o.Adresse
	return nil
}

func (r response) record(user string) Record {
	d := r.details
	if r.Daten != nil {
		d = *r.Daten
	}
	return Record{
		User:      user,
		Email:     selectEmail(d.Vorname, d.Nachname, d.Emails),
		FirstName: d.Vorname,
		LastName:  d.Nachname,
		Gender:    d.Geschlecht,
		Status:    r.Status,
		Project:   r.Projekt,
	}
}

// selectEmail picks one address per user: the first one containing
// both name parts when known, otherwise the first address. Duplicates
// are ignored while preserving order.
func selectEmail(firstName, lastName string, addrs []emailAddress) string {
	var unique []string
	seen := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if a.Adresse == "" {
			continue
		}
		if _, ok := seen[a.Adresse]; ok {
			continue
		}
		seen[a.Adresse] = struct{}{}
		unique = append(unique, a.Adresse)
	}
	if len(unique) == 0 {
		return ""
	}

	first := strings.ToLower(firstName)
	last := strings.ToLower(lastName)
	if first != "" && last != "" {
		for _, addr := range unique {
			lower := strings.ToLower(addr)
			if strings.Contains(lower, first) && strings.Contains(lower, last) {
				return addr
			}
		}
	}
	return unique[0]
}
