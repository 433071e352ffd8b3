package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrTokenTaken is returned by Create when the token is already held by another session.
var ErrTokenTaken = errors.New("pairing token already in use")

// HandleNotFound turns sql.ErrNoRows into a nil session, matching the other stores.
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
