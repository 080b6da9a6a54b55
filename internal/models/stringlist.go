package models

import (
	"encoding/json"
)

// StringList normalizes fields that historically accepted either a single
// string or a list of strings. Legacy documents stored a bare string; the
// list form is canonical and is always what gets written back.
type StringList []string

// UnmarshalJSON accepts "x", ["x","y"], or null.
func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if one == "" {
		*l = StringList{}
		return nil
	}
	*l = StringList{one}
	return nil
}

// Contains reports whether v is present in the list.
func (l StringList) Contains(v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}
