package verification

import "errors"

var (
	ErrNoEmails           = errors.New("no emails supplied")
	ErrTooManyEmails      = errors.New("too many emails")
	ErrNoEligibleContacts = errors.New("no eligible contacts")
)
