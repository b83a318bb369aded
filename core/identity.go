package core

// Identity identifies the author of archive transactions (Git commit author)
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
