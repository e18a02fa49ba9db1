package shared

import "strconv"

// Actor identifies who performs an operation and from where.
type Actor struct {
	UserID     int64
	Username   string
	Role       string
	SourceAddr string
}

// SystemActor is used by scheduled jobs that act without a user.
func SystemActor(name string) Actor {
	if name == "" {
		name = "system"
	}
	return Actor{Username: name, Role: "ADMIN"}
}

// IsSystem reports whether the actor is not backed by a user profile.
func (a Actor) IsSystem() bool {
	return a.UserID == 0
}

// ActorID returns a nullable identifier for persistence.
func (a Actor) ActorID() *int64 {
	if a.UserID == 0 {
		return nil
	}
	id := a.UserID
	return &id
}

// String renders the actor for logs and audit descriptions.
func (a Actor) String() string {
	if a.Username != "" {
		return a.Username
	}
	if a.UserID != 0 {
		return "user:" + strconv.FormatInt(a.UserID, 10)
	}
	return "system"
}
