package model

// Identity is the already-authenticated caller. It is produced by the auth
// edge and passed explicitly into every core operation; core code never reads
// identity from ambient connection state.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     int    `json:"role"`
}
