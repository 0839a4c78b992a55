// Package server hosts the Fiber HTTP service, the request middleware chain and
// the bootstrap glue that turns configuration into a binary provider chain.
// Route handlers live in server/routes and are attached through AppOptions so
// that tests can mount only the surfaces they exercise. Keep exports narrow and
// accept explicit dependencies.
package server
