package user

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Password     string `json:"-"`
	ProfileImage string `json:"profileImage,omitempty"`
	Created      int64  `json:"created"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type PasswordChange struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type AuthResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}
