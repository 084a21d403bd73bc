package laws

import "errors"

var (
	ErrForbidden             = errors.New("not allowed to edit this law group")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidParent         = errors.New("parent law must belong to the same group and language")
	ErrInvalidNeighbors      = errors.New("neighbor laws are not ordered siblings")
	ErrSubLawsNotAllowed     = errors.New("parent law does not allow sub-laws")
	ErrDescriptionNotAllowed = errors.New("law does not allow a description")
	ErrPrimeLawExists        = errors.New("group already has a prime law in this language")
	ErrPrimeLawDelete        = errors.New("prime law can only be removed with the whole group language")
	ErrPositionLocked        = errors.New("law position is locked")
)
