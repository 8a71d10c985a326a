package protocol

// 客户端 -> 服务端
const (
	TypeJoin = "join"
	TypeMove = "move"
	TypeChat = "chat"
)

// 服务端 -> 客户端
const (
	TypeSpaceJoined      = "space-joined"
	TypeUserJoined       = "user-joined"
	TypeMovement         = "movement"
	TypeMovementRejected = "movement-rejected"
	TypeUserLeft         = "user-left"
	TypeChatMessage      = "chat"
	TypeError            = "error"
)

// 错误码（error 事件的 code 字段）
const (
	CodeUnauthorized   = "unauthorized"
	CodeNameConflict   = "name-conflict"
	CodeRoomFull       = "room-full"
	CodeRoomNotFound   = "room-not-found"
	CodeInvalidName    = "invalid-name"
	CodeInvalidChat    = "invalid-chat"
	CodeAlreadyJoined  = "already-joined"
	CodeNotJoined      = "not-joined"
	CodeIdentityInRoom = "identity-in-room"
	CodeBadRequest     = "bad-request"
	CodeInternal       = "internal"
)

// Request 客户端请求的封闭联合：只有本包内的类型实现
type Request interface {
	RequestType() string
	isRequest()
}

// Event 服务端事件的封闭联合
type Event interface {
	EventType() string
	isEvent()
}

type JoinRequest struct {
	RoomID        string `json:"roomId"`
	IdentityToken string `json:"identityToken"`
	DisplayName   string `json:"displayName"`
}

// MoveRequest 携带目标格的绝对坐标，而非位移
type MoveRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (m MoveRequest) Position() Position { return Position{X: m.X, Y: m.Y} }

type ChatRequest struct {
	Text string `json:"text"`
}

func (JoinRequest) RequestType() string { return TypeJoin }
func (MoveRequest) RequestType() string { return TypeMove }
func (ChatRequest) RequestType() string { return TypeChat }
func (JoinRequest) isRequest()          {}
func (MoveRequest) isRequest()          {}
func (ChatRequest) isRequest()          {}

// UserInfo 快照中的成员
type UserInfo struct {
	UserID      string `json:"userId"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	DisplayName string `json:"displayName"`
}

func (u UserInfo) Position() Position { return Position{X: u.X, Y: u.Y} }

// ChatEntry 房间聊天记录条目；同时作为 chat 事件的载荷
type ChatEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Message     string `json:"message"`
	Sequence    uint64 `json:"sequence"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// SpaceJoined 加入成功后的全量快照，每次 join 只发一次
type SpaceJoined struct {
	UserID   string      `json:"userId"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	Spawn    Position    `json:"spawn"`
	Users    []UserInfo  `json:"users"`
	Messages []ChatEntry `json:"messages"`
}

type UserJoined struct {
	UserID      string `json:"userId"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	DisplayName string `json:"displayName"`
}

type Movement struct {
	UserID string `json:"userId"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

// MovementRejected 只发给移动发起者，携带权威坐标用于回滚
type MovementRejected struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (SpaceJoined) EventType() string      { return TypeSpaceJoined }
func (UserJoined) EventType() string       { return TypeUserJoined }
func (Movement) EventType() string         { return TypeMovement }
func (MovementRejected) EventType() string { return TypeMovementRejected }
func (UserLeft) EventType() string         { return TypeUserLeft }
func (ChatEntry) EventType() string        { return TypeChatMessage }
func (Error) EventType() string            { return TypeError }
func (SpaceJoined) isEvent()               {}
func (UserJoined) isEvent()                {}
func (Movement) isEvent()                  {}
func (MovementRejected) isEvent()          {}
func (UserLeft) isEvent()                  {}
func (ChatEntry) isEvent()                 {}
func (Error) isEvent()                     {}
