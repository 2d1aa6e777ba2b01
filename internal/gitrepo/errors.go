package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Kind classifies a gateway failure.
type Kind int

const (
	KindOther Kind = iota
	KindInitLib
	KindRepoAlreadyInit
	KindRepoNotInit
	KindWrongPath
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindInitLib:
		return "init_lib"
	case KindRepoAlreadyInit:
		return "repo_already_init"
	case KindRepoNotInit:
		return "repo_not_init"
	case KindWrongPath:
		return "wrong_path"
	case KindTransport:
		return "transport"
	default:
		return "other"
	}
}

// Code identifies the underlying git failure of a Transport error.
type Code int

const (
	CodeNone Code = iota
	CodeGeneric
	CodeAuth
	CodeRepositoryNotFound
	CodeNonFastForward
	CodeNetwork
	CodeCanceled
	CodeTimeout
	CodeNotRepository
	CodeRepositoryExists
)

var codeNames = map[Code]string{
	CodeNone:               "none",
	CodeGeneric:            "generic",
	CodeAuth:               "auth",
	CodeRepositoryNotFound: "repository_not_found",
	CodeNonFastForward:     "non_fast_forward",
	CodeNetwork:            "network",
	CodeCanceled:           "canceled",
	CodeTimeout:            "timeout",
	CodeNotRepository:      "not_repository",
	CodeRepositoryExists:   "repository_exists",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// errorCodes maps known go-git and context errors to a Code. Order matters:
// the first matching entry wins.
var errorCodes = []struct {
	target error
	code   Code
}{
	{context.Canceled, CodeCanceled},
	{context.DeadlineExceeded, CodeTimeout},
	{transport.ErrAuthenticationRequired, CodeAuth},
	{transport.ErrAuthorizationFailed, CodeAuth},
	{transport.ErrInvalidAuthMethod, CodeAuth},
	{transport.ErrRepositoryNotFound, CodeRepositoryNotFound},
	{git.ErrNonFastForwardUpdate, CodeNonFastForward},
	{git.ErrRepositoryNotExists, CodeNotRepository},
	{git.ErrRepositoryAlreadyExists, CodeRepositoryExists},
}

// codeKinds maps every Code to the Kind reported to callers.
var codeKinds = map[Code]Kind{
	CodeNone:               KindOther,
	CodeGeneric:            KindTransport,
	CodeAuth:               KindTransport,
	CodeRepositoryNotFound: KindTransport,
	CodeNonFastForward:     KindTransport,
	CodeNetwork:            KindTransport,
	CodeCanceled:           KindTransport,
	CodeTimeout:            KindTransport,
	CodeNotRepository:      KindWrongPath,
	CodeRepositoryExists:   KindWrongPath,
}

// Error is returned by every Gateway operation.
type Error struct {
	Kind    Kind
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("gitrepo: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Code != CodeNone {
		b.WriteString("(")
		b.WriteString(e.Code.String())
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// IsKind reports whether err is a gateway Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// CodeOf returns the Code carried by err, or CodeNone.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeNone
}

func newError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// classify turns a raw go-git failure into a typed Error.
func classify(op string, err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	code := codeOf(err)
	return &Error{Kind: codeKinds[code], Code: code, Op: op, Cause: err}
}

func codeOf(err error) Code {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.target) {
			return entry.code
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}
	return CodeGeneric
}
