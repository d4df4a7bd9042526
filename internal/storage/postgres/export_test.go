package postgres

// IsDuplicateKeyError exposes isDuplicateKeyError to external tests.
var IsDuplicateKeyError = isDuplicateKeyError
