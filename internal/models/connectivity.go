package models

type ConnectivityState int

const (
	Offline ConnectivityState = iota
	Online
)

func (s ConnectivityState) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

func ParseConnectivityState(s string) (ConnectivityState, bool) {
	switch s {
	case "online":
		return Online, true
	case "offline":
		return Offline, true
	default:
		return Offline, false
	}
}
