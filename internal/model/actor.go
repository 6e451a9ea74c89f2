package model

type Role string

const (
	RolePatient   Role = "patient"
	RoleTherapist Role = "therapist"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleTherapist, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor identifies who requested a mutation.
type Actor struct {
	ID   string `json:"id" bson:"id"`
	Role Role   `json:"role" bson:"role"`
}

// System returns the actor used by webhooks and scheduled jobs.
func System(name string) Actor {
	return Actor{ID: "system:" + name, Role: RoleSystem}
}
