package models

type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Password   string `json:"-"`
	ProfilePic string `json:"profile_pic"`
}

// Profile is the public projection of a user.
type Profile struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	ProfilePic string `json:"profile_pic"`
}

func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, ProfilePic: u.ProfilePic}
}

type Community struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	CreatedBy string  `json:"created_by"`
	Members   UserSet `json:"members"`
}
