package keeper

// TokenNotFoundError is returned when a download-capable string resolves to
// nothing: neither a token nor an alias. Terminal for that string.
type TokenNotFoundError struct {
	Ref string
}

func (e TokenNotFoundError) Error() string {
	return "invalid download token"
}

// TokenExpiredError is returned when resolution found a record past its
// expiry. The record has been purged as a side effect. Callers must present
// this to users identically to TokenNotFoundError; the distinction exists
// for logging only.
type TokenExpiredError struct {
	Token string
}

func (e TokenExpiredError) Error() string {
	return "download token has expired"
}

// BackingFileMissingError is returned when a token record exists but its
// stored file is gone, e.g. deleted out-of-band. The record is deleted as a
// self-healing side effect; callers treat this like TokenNotFoundError.
type BackingFileMissingError struct {
	Token    string
	Filename string
}

func (e BackingFileMissingError) Error() string {
	return "file not found on server"
}

// AliasInvalidError is returned when an alias fails format validation.
type AliasInvalidError struct {
	Alias string
}

func (e AliasInvalidError) Error() string {
	return "invalid alias format"
}

// AliasCollisionError is returned when a requested alias collides with an
// existing alias or token string.
type AliasCollisionError struct {
	Alias string
}

func (e AliasCollisionError) Error() string {
	return "alias already in use"
}
