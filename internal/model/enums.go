package model

type SessionStatus string

const (
	SessionStatusIssued  SessionStatus = "ISSUED"
	SessionStatusPaired  SessionStatus = "PAIRED"
	SessionStatusExpired SessionStatus = "EXPIRED"
)

func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusPaired || s == SessionStatusExpired
}

type EventType string

const (
	EventConnected       EventType = "connected"
	EventPairingComplete EventType = "pairing_complete"
	EventPairingExpired  EventType = "pairing_expired"
)
