package resource_types

// Resource names used in log fields, metric labels and error messages.
const (
	Profile    = "profile"
	Address    = "address"
	Credits    = "credits"
	Credential = "credential"
)
