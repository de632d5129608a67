package session

// loadingInputs are the sub-state flags the aggregate loading flag is derived from.
type loadingInputs struct {
	Unresolved       bool
	Authenticating   bool
	HasIdentity      bool
	HasProfile       bool
	ProfileLoading   bool
	AddressesLoading bool
}

// overallLoading is true while the identity is unknown or authenticating, while the
// profile of a present identity loads, or while the addresses of a present profile load.
func overallLoading(in loadingInputs) bool {
	return in.Unresolved ||
		in.Authenticating ||
		(in.HasIdentity && in.ProfileLoading) ||
		(in.HasIdentity && in.HasProfile && in.AddressesLoading)
}

// identityLoading is the identity part of overallLoading.
func identityLoading(in loadingInputs) bool {
	return in.Unresolved || in.Authenticating
}
