package service

import "errors"

var (
	// ErrDataIntegrity marks stored clusters that break the primary/secondary invariants:
	// dangling or cyclic links, or a cluster without exactly one primary.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrEmptyRequest is returned when neither email nor phone number survives normalization.
	ErrEmptyRequest = errors.New("either email or phoneNumber must be provided")

	// ErrContention is returned when the cluster kept changing while its locks were taken.
	ErrContention = errors.New("cluster changed concurrently")
)
