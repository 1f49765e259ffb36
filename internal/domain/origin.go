package domain

import "fmt"

// OriginType tells where a piece of environment configuration was declared.
type OriginType int

const (
	// Interactive data lives in the server's own config and is editable here.
	Interactive OriginType = iota
	// ConfigRepository data was declared in a config repository and is read-only here.
	ConfigRepository
)

func (t OriginType) String() string {
	switch t {
	case Interactive:
		return "gocd"
	case ConfigRepository:
		return "config_repo"
	default:
		return fmt.Sprintf("origin(%d)", int(t))
	}
}

// Origin is an immutable provenance tag. ID is only meaningful for ConfigRepository.
type Origin struct {
	Type OriginType
	ID   string
}

// InteractiveOrigin tags data owned by the admin UI.
func InteractiveOrigin() Origin {
	return Origin{Type: Interactive}
}

// ConfigRepoOrigin tags data declared by the config repository id.
func ConfigRepoOrigin(id string) Origin {
	return Origin{Type: ConfigRepository, ID: id}
}

// IsEditable reports whether the UI may change data carrying this origin.
func (o Origin) IsEditable() bool {
	return o.Type == Interactive
}

// Equal compares tag and, for config repositories, the source id.
func (o Origin) Equal(other Origin) bool {
	if o.Type != other.Type {
		return false
	}
	if o.Type == ConfigRepository {
		return o.ID == other.ID
	}
	return true
}

func (o Origin) String() string {
	if o.Type == ConfigRepository {
		return o.Type.String() + ":" + o.ID
	}
	return o.Type.String()
}

// Origins is the set of origins contributing to an environment.
type Origins []Origin

// Contains reports whether o is already present.
func (s Origins) Contains(o Origin) bool {
	for _, existing := range s {
		if existing.Equal(o) {
			return true
		}
	}
	return false
}

// Add returns s with o appended unless already present.
func (s Origins) Add(o Origin) Origins {
	if s.Contains(o) {
		return s
	}
	return append(s, o)
}

// IsLocal reports whether every origin is interactive. An environment with no
// origins is treated as local.
func (s Origins) IsLocal() bool {
	for _, o := range s {
		if !o.IsEditable() {
			return false
		}
	}
	return true
}

// HasEditable reports whether any part is interactive.
func (s Origins) HasEditable() bool {
	for _, o := range s {
		if o.IsEditable() {
			return true
		}
	}
	return false
}

// Clone copies the slice.
func (s Origins) Clone() Origins {
	if s == nil {
		return nil
	}
	return append(Origins(nil), s...)
}
