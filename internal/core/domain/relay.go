package domain

// TargetName names a render target within a session.
type TargetName string

const (
	TargetPrimary   TargetName = "primary"
	TargetSecondary TargetName = "secondary"
)
