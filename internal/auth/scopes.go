package auth

const (
	ScopeOpenID       = "openid"
	ScopeProfile      = "profile"
	ScopeEmail        = "email"
	ScopeTasksRead    = "adcp:tasks:read"
	ScopeTasksApprove = "adcp:tasks:approve"
)

// AllScopes is the scope set requested by the API docs page.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeTasksRead,
	ScopeTasksApprove,
}
