package transport

// LinkType identifies the medium a link carries frames over.
type LinkType int

const (
	// LinkTypeUnknown is the zero value for unknown links.
	LinkTypeUnknown LinkType = iota
	// LinkTypeUDP carries one frame per datagram.
	LinkTypeUDP
	// LinkTypeStream carries self-delimiting frames over a byte stream.
	LinkTypeStream
	// LinkTypePipe is an in-memory point-to-point link.
	LinkTypePipe
	// LinkTypeHub is an in-memory multi-drop segment.
	LinkTypeHub
)

// String returns the string representation of the link type.
func (t LinkType) String() string {
	switch t {
	case LinkTypeUDP:
		return "UDP"
	case LinkTypeStream:
		return "Stream"
	case LinkTypePipe:
		return "Pipe"
	case LinkTypeHub:
		return "Hub"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the link type is a known valid type.
func (t LinkType) IsValid() bool {
	return t >= LinkTypeUDP && t <= LinkTypeHub
}
