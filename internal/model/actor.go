package model

type Role string

const (
	RoleUser   Role = "user"
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

// ParseRole проверяет роль из токена
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleUser, RoleExpert, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// Actor пользователь, от имени которого выполняется операция.
// Всегда передаётся явно.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (a Actor) IsExpert() bool {
	return a.Role == RoleExpert
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
