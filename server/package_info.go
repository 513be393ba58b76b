// Package server contains the HTTP API of Flagpole: the client API used by SDKs, the frontend API,
// the admin API and the health endpoint.
//
// The exported Server type can be embedded in another application; see New.
package server
