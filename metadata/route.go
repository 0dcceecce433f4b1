package metadata

// EndpointRoute describes how an operation was reached: which service method it is and
// which gateway/path triggered it. It carries none of the endpoint's handlers or factories.
type EndpointRoute struct {
	// ServiceName is the name of the service that this operation is part of (e.g. "Calculator").
	ServiceName string
	// Name is the name of the operation (e.g. "Add").
	Name string
	// Type is the kind of gateway that triggered the operation: "RPC", "API", or "EVENTS".
	Type string
	// Method is "UNARY" for gRPC, the HTTP method for API calls, and "ON" for events.
	Method string
	// Path is the resolved routing path: the full gRPC method name
	// (e.g. "/teacher.Calculator/Add"), the HTTP request path, or the event key.
	Path string
	// Group is the consumer group of an event route. It is blank for every other gateway.
	Group string
	// Status is the HTTP-style status reported when the operation succeeds.
	Status int
}

// QualifiedName returns "ServiceName.Name", or whichever half is present when the other is blank.
func (e EndpointRoute) QualifiedName() string {
	if e.ServiceName == "" || e.Name == "" {
		return e.ServiceName + e.Name
	}
	return e.ServiceName + "." + e.Name
}
