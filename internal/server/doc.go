// Package server wires the Fiber application: panic recovery, request-ID
// middleware and a catch-all route that hands every inbound request to the
// proxy engine. It owns no caching or forwarding logic of its own, which
// keeps the engine injectable with fakes during tests.
package server
