package store

// User is a participant of the workspace. Autonomous users are agent accounts.
type User struct {
	ID           int32
	Username     string
	DisplayName  string
	IsAutonomous bool
	AvatarURL    string
	CreatedTs    int64
}

type FindUser struct {
	ID           *int32
	Username     *string
	IDList       []int32
	IsAutonomous *bool
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
