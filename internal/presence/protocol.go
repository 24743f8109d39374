package presence

import "encoding/json"

// Message types exchanged as JSON text frames.
const (
	TypePing     = "ping"
	TypePong     = "pong"
	TypeFocus    = "focus"
	TypePresence = "presence"
	TypeJoined   = "user_joined"
	TypeLeft     = "user_left"
	TypeActive   = "user_active"
)

// clientFrame covers everything a client may send.
type clientFrame struct {
	Type     string `json:"type"`
	IsActive bool   `json:"isActive"`
}

type presenceFrame struct {
	Type  string `json:"type"`
	Users []User `json:"users"`
}

type joinedFrame struct {
	Type string `json:"type"`
	User User   `json:"user"`
}

type leftFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type activeFrame struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	IsActive bool   `json:"isActive"`
}

type pongFrame struct {
	Type string `json:"type"`
}

func marshalPresence(users []User) []byte {
	data, _ := json.Marshal(presenceFrame{Type: TypePresence, Users: users})
	return data
}

func marshalJoined(u User) []byte {
	data, _ := json.Marshal(joinedFrame{Type: TypeJoined, User: u})
	return data
}

func marshalLeft(userID string) []byte {
	data, _ := json.Marshal(leftFrame{Type: TypeLeft, UserID: userID})
	return data
}

func marshalActive(userID string, active bool) []byte {
	data, _ := json.Marshal(activeFrame{Type: TypeActive, UserID: userID, IsActive: active})
	return data
}

func marshalPong() []byte {
	data, _ := json.Marshal(pongFrame{Type: TypePong})
	return data
}
