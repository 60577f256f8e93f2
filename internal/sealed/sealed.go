// Package sealed holds the token that restricts novadb.Row to the backends in this module.
package sealed

// Token can only be named from inside the module, so only in-module types can
// declare a method taking it.
type Token struct{}

// Row is embedded by novadb.Row.
type Row interface {
	SealedRow(Token)
}
