// Package dialer opens the upstream side of a proxy session.
//
// The proxy hands every session's target address to a Dialer. Depending on the
// configured upstream URL the connection goes straight to the target, to a
// parent HTTP proxy that receives the absolute-form request unchanged, or
// through a SOCKS5 server.
package dialer
