// Package socks5 performs the client side of a SOCKS5 CONNECT handshake on an
// already established connection.
//
// It is a thin layer over the protocol types in github.com/txthinking/socks5.
package socks5
