// Package proxy implements the textproxy forward proxy.
//
// A Controller owns the listening socket and its accept loop; every accepted
// connection is handed to a Handler, which reads one request, dials the host
// named in its absolute target URL, forwards the request verbatim, reads the
// response and relays it back before closing both connections.
package proxy
