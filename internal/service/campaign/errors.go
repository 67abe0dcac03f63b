package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNoEligibleContacts = errors.New("no eligible contacts")
	ErrAlreadyScheduled   = errors.New("campaign is already scheduled or sending")
	ErrFinished           = errors.New("campaign has already finished")
	ErrLocked             = errors.New("campaign is being scheduled by another request")
)
