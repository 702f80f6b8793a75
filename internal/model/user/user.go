package user

import "time"

// User is the public view of an account, returned to clients.
type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Account 是持久化的用户记录，包含密码哈希，绝不直接返回给客户端。
type Account struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name,omitempty"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	PasswordHash   string    `json:"passwordHash"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Public strips credential material from the account.
func (a Account) Public() User {
	return User{
		ID:             a.ID,
		Email:          a.Email,
		Name:           a.Name,
		ProfilePicture: a.ProfilePicture,
	}
}

// Token binds an opaque bearer token to a user.
type Token struct {
	Value    string    `json:"value"`
	UserID   string    `json:"userId"`
	IssuedAt time.Time `json:"issuedAt"`
}
