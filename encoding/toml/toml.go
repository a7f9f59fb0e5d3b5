//go:generate -command yacc goyacc
//go:generate yacc -o parser.go parser.y

/*
Package toml implements Tom's Obvious Minimal Language.

This package implements a subset of the TOML specification that's useful
for pmail node config files.  We built our own TOML package so that we
could have control over how certain types are encoded.  For example,
[]byte can be encoded as a base32 string, which is how a node's public
key and its bootstrap peers' keys appear in a config file.

This package does not yet provide an encoder since node configs are
hand-written, not generated.
*/
package toml
