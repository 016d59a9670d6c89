package domain

import (
	"errors"
	"io"
)

var (
	ErrNotFound  = errors.New("file not found")
	ErrNameTaken = errors.New("file name already taken")
)

// Resolution is a collision-free name, or the partially written file a ranged chunk continues.
type Resolution struct {
	Name         string
	Continuation bool
}

type WriteRequest struct {
	Namespace    string
	Name         string
	Body         io.Reader
	Total        uint64
	Ranged       bool
	Continuation bool
}

// DeriveResult lists the named versions written and the versions that failed.
type DeriveResult struct {
	Produced []string
	Failed   []string
}
