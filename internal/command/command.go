// Package command names the registry commands shared by pricing, tokens and
// flows.
package command

import "strings"

type Type string

const (
	Check    Type = "CHECK"
	Create   Type = "CREATE"
	Renew    Type = "RENEW"
	Transfer Type = "TRANSFER"
	Restore  Type = "RESTORE"
	Delete   Type = "DELETE"
	Update   Type = "UPDATE"
)

func Parse(raw string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case Check, Create, Renew, Transfer, Restore, Delete, Update:
		return t, true
	default:
		return "", false
	}
}
