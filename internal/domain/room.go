package domain

// RoomName names a broadcast partition. The empty name is the implicit
// global partition every connection belongs to.
type RoomName string

const RoomGlobal RoomName = ""

const MaxRoomNameLen = 36

func (r RoomName) IsGlobal() bool { return r == RoomGlobal }
