package valve

// State is a step of the session connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateServiceDiscovery
	StateCharacteristicDiscovery
	StateDescriptorSetup
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateServiceDiscovery:
		return "service-discovery"
	case StateCharacteristicDiscovery:
		return "characteristic-discovery"
	case StateDescriptorSetup:
		return "descriptor-setup"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
