package enums

type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionError        ConnectionStatus = "error"
	ConnectionPending      ConnectionStatus = "pending"
)

var validConnectionStatuses = values[ConnectionStatus]{
	ConnectionConnected,
	ConnectionDisconnected,
	ConnectionError,
	ConnectionPending,
}

func (v ConnectionStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ConnectionStatus.
func (v ConnectionStatus) IsValid() bool {
	return validConnectionStatuses.has(v)
}

// ParseConnectionStatus converts raw input into a ConnectionStatus.
func ParseConnectionStatus(value string) (ConnectionStatus, error) {
	return validConnectionStatuses.parse(value, "connection status")
}
