// Package server hosts the Fiber HTTP service and its middleware chain, plus
// the shared upstream http.Client that backs the outbound network used by the
// request router and generation installs. Keep exports narrow and accept
// explicit dependencies so tests can inject fake proxies and networks.
package server
