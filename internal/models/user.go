package models

// User is a registered account as exposed by the API.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`

	// Avatar is an optional emoji or image identifier
	Avatar string `json:"avatar,omitempty"`
}

// LoginRequest is the request body for POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the request body for POST /auth/register
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar,omitempty"`
}

// AuthResponse is returned by both login and register
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// OKResponse is the generic acknowledgement body
type OKResponse struct {
	OK bool `json:"ok"`
}
